package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/govalues/money"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix is prepended to every variable: LEDGER_HTTP_ADDR, LEDGER_LOCK_TIMEOUT, ...
const EnvPrefix = "LEDGER"

type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	AutoMigrate     bool          `envconfig:"AUTO_MIGRATE" default:"false"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	DevSeed         bool          `envconfig:"DEV_SEED" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Embedded so their variables keep the plain LEDGER_ prefix.
	EngineConfig
	AuthConfig

	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// EngineConfig tunes the posting engine.
type EngineConfig struct {
	// LockTimeout bounds the wait for each per-account lock.
	LockTimeout      time.Duration   `envconfig:"LOCK_TIMEOUT" default:"5s"`
	BalanceTolerance decimal.Decimal `envconfig:"BALANCE_TOLERANCE" default:"0.01"`
	BaseCurrency     string          `envconfig:"BASE_CURRENCY" default:"USD"`
	AllowUnpost      bool            `envconfig:"ALLOW_UNPOST" default:"false"`
	RecalcWorkers    int             `envconfig:"RECALC_WORKERS" default:"4"`
}

// AuthConfig enables bearer-token auth when Secret is set.
type AuthConfig struct {
	Secret   string `envconfig:"JWT_SECRET"`
	Issuer   string `envconfig:"JWT_ISSUER"`
	Audience string `envconfig:"JWT_AUDIENCE"`
}

func (a AuthConfig) Enabled() bool { return a.Secret != "" }

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.EngineConfig.LockTimeout <= 0 {
		return fmt.Errorf("config: %s_LOCK_TIMEOUT must be positive", EnvPrefix)
	}
	if c.EngineConfig.BalanceTolerance.IsNegative() {
		return fmt.Errorf("config: %s_BALANCE_TOLERANCE must not be negative", EnvPrefix)
	}
	if c.EngineConfig.RecalcWorkers < 1 {
		return fmt.Errorf("config: %s_RECALC_WORKERS must be at least 1", EnvPrefix)
	}
	cur, err := money.ParseCurr(c.EngineConfig.BaseCurrency)
	if err != nil {
		return fmt.Errorf("config: %s_BASE_CURRENCY: %w", EnvPrefix, err)
	}
	c.EngineConfig.BaseCurrency = cur.Code()
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: %s_LOG_FORMAT must be json or text", EnvPrefix)
	}
	return nil
}
