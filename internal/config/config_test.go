package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected HTTP addr %q", cfg.HTTPAddr)
	}
	if cfg.EngineConfig.LockTimeout != 5*time.Second {
		t.Fatalf("expected 5s lock timeout, got %v", cfg.EngineConfig.LockTimeout)
	}
	if !cfg.EngineConfig.BalanceTolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("unexpected tolerance %s", cfg.EngineConfig.BalanceTolerance)
	}
	if cfg.EngineConfig.AllowUnpost {
		t.Fatal("unpost must be disabled by default")
	}
	if cfg.AuthConfig.Enabled() {
		t.Fatal("auth must be disabled without a secret")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_LOCK_TIMEOUT", "250ms")
	t.Setenv("LEDGER_BASE_CURRENCY", "eur")
	t.Setenv("LEDGER_ALLOW_UNPOST", "true")
	t.Setenv("LEDGER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LEDGER_JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.EngineConfig.LockTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected lock timeout %v", cfg.EngineConfig.LockTimeout)
	}
	if cfg.EngineConfig.BaseCurrency != "EUR" {
		t.Fatalf("expected normalized EUR, got %q", cfg.EngineConfig.BaseCurrency)
	}
	if !cfg.EngineConfig.AllowUnpost || !cfg.AuthConfig.Enabled() {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %v", cfg.CORSOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"LEDGER_RECALC_WORKERS":    "0",
		"LEDGER_BASE_CURRENCY":     "XXXX",
		"LEDGER_LOG_FORMAT":        "xml",
		"LEDGER_BALANCE_TOLERANCE": "-1",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
