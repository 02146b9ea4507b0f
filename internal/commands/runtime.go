package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tinoosan/bizledger/internal/config"
	"github.com/tinoosan/bizledger/internal/storage/postgres"
)

// loadConfig reads an optional .env file, then the LEDGER_* environment.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return config.Load()
}

// parseLogLevel maps config values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// setup loads config and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openPostgres connects to LEDGER_DATABASE_URL. Offline commands have no
// in-memory fallback since their work would be discarded on exit.
func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%s_DATABASE_URL is required", config.EnvPrefix)
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.WithLockTimeout(cfg.LockTimeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return pg, nil
}
