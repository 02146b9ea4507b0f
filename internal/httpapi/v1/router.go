// Package v1 is the HTTP surface of the ledger engine. Handlers stay thin:
// they decode and validate the request, resolve the tenant from the caller and
// delegate to the services.
package v1

import (
	"context"
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tinoosan/bizledger/internal/config"
	"github.com/tinoosan/bizledger/internal/idempotency"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/balance"
	"github.com/tinoosan/bizledger/internal/service/journal"
	"github.com/tinoosan/bizledger/internal/service/reconcile"
)

// ReadyChecker is implemented by dependencies checked by /readyz.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Deps are the collaborators the API delegates to. Idempotency may be nil to
// disable Idempotency-Key handling.
type Deps struct {
	Store          ledger.Store
	Journal        journal.Service
	Accounts       account.Service
	Balances       *balance.Recalculator
	Reconciliation reconcile.Service
	Audit          *audit.Recorder
	Idempotency    *idempotency.Guard
	Ready          []ReadyChecker
	Auth           config.AuthConfig
	// BaseCurrency applies to vouchers that do not name one.
	BaseCurrency string
	CORSOrigins  []string
	Logger       *slog.Logger
}

// Server wires handlers and middleware using Chi.
type Server struct {
	store    ledger.Store
	journal  journal.Service
	accounts account.Service
	balances *balance.Recalculator
	recon    reconcile.Service
	audit    *audit.Recorder
	idem     *idempotency.Guard
	ready    []ReadyChecker
	auth     config.AuthConfig
	currency string
	log      *slog.Logger
	rt       *chi.Mux
	handler  http.Handler
}

// New constructs the HTTP server with routes and middleware.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.BaseCurrency == "" {
		d.BaseCurrency = "USD"
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(accessLog(d.Logger))
	r.Use(recoverPanic(d.Logger))
	r.Use(metricsMiddleware)

	s := &Server{
		store:    d.Store,
		journal:  d.Journal,
		accounts: d.Accounts,
		balances: d.Balances,
		recon:    d.Reconciliation,
		audit:    d.Audit,
		idem:     d.Idempotency,
		ready:    d.Ready,
		auth:     d.Auth,
		currency: d.BaseCurrency,
		log:      d.Logger,
		rt:       r,
	}
	s.routes()
	s.handler = r
	if len(d.CORSOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", headerTenant, headerActor},
			ExposedHeaders:   []string{"Retry-After", headerReplayed},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler(r)
	}
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.handler }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	// Unauthenticated
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
	s.rt.Get("/v1/dictionary/voucher-types", s.getVoucherTypes)
	s.rt.Get("/v1/dictionary/groups", s.getGroupsDictionary)

	s.rt.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(s.idempotent).Post("/vouchers", s.postVoucher)
		r.Get("/vouchers/{id}", s.getVoucher)
		r.Delete("/vouchers/{id}", s.deleteVoucher)
		r.Post("/vouchers/{id}/post", s.postDraft)
		r.Post("/vouchers/{id}/reverse", s.reverseVoucher)
		r.Post("/vouchers/{id}/unpost", s.unpostVoucher)

		r.Get("/accounts", s.listAccounts)
		r.Post("/accounts", s.postAccount)
		r.Get("/accounts/{id}", s.getAccount)
		r.Patch("/accounts/{id}", s.updateAccount)
		r.Delete("/accounts/{id}", s.deleteAccount)
		r.Get("/accounts/{id}/ledger", s.getAccountLedger)
		r.Post("/accounts/{id}/recalculate", s.recalculateAccount)

		r.Post("/balances/recalculate", s.recalculateAll)
		r.Get("/balances/verify", s.verifyBalances)
		r.Get("/trial-balance", s.trialBalance)

		r.Post("/reconciliations", s.postReconciliation)
		r.Get("/reconciliations/{id}", s.getReconciliation)
		r.Get("/reconciliations/{id}/unmatched", s.getUnmatched)
		r.Post("/reconciliations/{id}/matches", s.postMatch)
		r.Post("/reconciliations/{id}/auto-match", s.postAutoMatch)
		r.Post("/reconciliations/{id}/finalize", s.finalizeReconciliation)

		r.Get("/audit", s.listAudit)
	})
}
