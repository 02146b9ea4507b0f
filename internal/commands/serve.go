package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tinoosan/bizledger/internal/config"
	v1 "github.com/tinoosan/bizledger/internal/httpapi/v1"
	"github.com/tinoosan/bizledger/internal/idempotency"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/metrics"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/balance"
	"github.com/tinoosan/bizledger/internal/service/journal"
	"github.com/tinoosan/bizledger/internal/service/reconcile"
	"github.com/tinoosan/bizledger/internal/storage/memory"
)

const devTenant = int64(1)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// backend is the store the server runs on plus what it needs at startup and
// shutdown.
type backend struct {
	store      ledger.Store
	ready      []v1.ReadyChecker
	savePeriod func(context.Context, ledger.FiscalPeriod) error
	close      func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, error) {
	if cfg.DatabaseURL == "" {
		store := memory.New().WithLockTimeout(cfg.LockTimeout)
		logger.Info("storage backend: memory")
		return backend{
			store: store,
			ready: []v1.ReadyChecker{store},
			savePeriod: func(_ context.Context, p ledger.FiscalPeriod) error {
				store.SeedPeriod(p)
				return nil
			},
			close: func() {},
		}, nil
	}
	pg, err := openPostgres(ctx, cfg)
	if err != nil {
		return backend{}, err
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, "up"); err != nil {
			pg.Close()
			return backend{}, err
		}
		logger.Info("migrations applied")
	}
	logger.Info("storage backend: postgres")
	return backend{
		store: pg,
		ready: []v1.ReadyChecker{pg},
		savePeriod: func(ctx context.Context, p ledger.FiscalPeriod) error {
			_, err := pg.SavePeriod(ctx, p)
			return err
		},
		close: pg.Close,
	}, nil
}

func openIdempotency(ctx context.Context, cfg *config.Config, logger *slog.Logger) (idempotency.KV, []v1.ReadyChecker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("idempotency store: memory")
		return idempotency.NewMemoryStore(), nil, func() {}, nil
	}
	rs, err := idempotency.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("idempotency store: redis")
	return rs, []v1.ReadyChecker{rs}, func() { _ = rs.Close() }, nil
}

// devSeed gives the dev tenant its system accounts and an open period for the
// current calendar year.
func devSeed(ctx context.Context, b backend, accounts account.Service, logger *slog.Logger) error {
	sys, err := accounts.EnsureSystemAccounts(ctx, devTenant, "system")
	if err != nil {
		return err
	}
	year := time.Now().UTC().Year()
	p := ledger.FiscalPeriod{
		TenantID:  devTenant,
		Name:      fmt.Sprintf("FY%d", year),
		StartDate: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}
	var covering []ledger.FiscalPeriod
	err = b.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		covering, err = tx.Periods().PeriodsCovering(ctx, devTenant, p.StartDate)
		return err
	})
	if err != nil {
		return err
	}
	if len(covering) == 0 {
		if err := b.savePeriod(ctx, p); err != nil {
			return err
		}
	}
	ids := map[string]int64{}
	for _, a := range sys {
		ids[a.Code] = a.ID
	}
	logger.Info("DEV seed", "tenant_id", devTenant, "period", p.Name, "system_accounts", ids)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	kv, kvReady, closeKV, err := openIdempotency(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	m := metrics.NewEngine(prometheus.DefaultRegisterer)
	rec := audit.NewRecorder()
	tolerance := cfg.BalanceTolerance
	accounts := account.New(b.store, rec)

	if cfg.DevSeed {
		if err := devSeed(ctx, b, accounts, logger); err != nil {
			logger.Error("dev seed failed", "err", err)
		}
	}

	api := v1.New(v1.Deps{
		Store: b.store,
		Journal: journal.New(b.store, journal.Options{
			BaseCurrency: cfg.BaseCurrency,
			AllowUnpost:  cfg.AllowUnpost,
			Tolerance:    &tolerance,
			Logger:       logger,
			Metrics:      m,
			Audit:        rec,
		}),
		Accounts:       accounts,
		Balances:       balance.NewRecalculator(b.store, balance.Options{Workers: cfg.RecalcWorkers, Logger: logger, Metrics: m}),
		Reconciliation: reconcile.New(b.store, reconcile.Options{Audit: rec, Logger: logger}),
		Audit:          rec,
		Idempotency:    idempotency.NewGuard(kv, cfg.IdempotencyTTL),
		Ready:          append(b.ready, kvReady...),
		Auth:           cfg.AuthConfig,
		BaseCurrency:   cfg.BaseCurrency,
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         logger,
	})
	if !cfg.AuthConfig.Enabled() {
		logger.Warn("JWT auth disabled; tenant is taken from the X-Tenant-ID header")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.LockTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
			return err
		}
		logger.Info("server stopped")
		return nil
	case err := <-errCh:
		logger.Error("server error", "err", err)
		return err
	}
}
