// Package journal is the posting engine. It turns validated vouchers into
// ledger entries and keeps every touched account's running balance and cached
// current balance consistent with what a full recalculation would produce.
//
// Every operation runs in one store transaction: validation, the period gate,
// per-account locks (ascending account id), entry writes, resequencing of
// later-dated rows and the audit row either all commit or none do. Lock
// timeouts surface as errs.ErrAccountLocked and are never retried here.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/meta"
	"github.com/tinoosan/bizledger/internal/metrics"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/voucher"
)

// PostInput is a request to create a voucher. Number is optional; when empty
// one is generated as <TYPE>-<YYYY>-<NNNNNN>.
type PostInput struct {
	TenantID        int64
	Number          string
	Type            string
	Date            time.Time
	BaseCurrency    string
	ExchangeRate    decimal.Decimal
	Narration       string
	ReferenceType   string
	ReferenceID     *int64
	ReferenceNumber string
	Metadata        meta.Metadata
	Lines           []voucher.Line
	// Draft stores the voucher without ledger entries.
	Draft bool
	Actor string

	reversalOf *int64
}

// Service exposes the voucher lifecycle.
type Service interface {
	Post(ctx context.Context, in PostInput) (ledger.Voucher, error)
	PostDraft(ctx context.Context, tenantID, voucherID int64, actor string) (ledger.Voucher, error)
	Delete(ctx context.Context, tenantID, voucherID int64, actor string) error
	Unpost(ctx context.Context, tenantID, voucherID int64, actor string) (ledger.Voucher, error)
	Reverse(ctx context.Context, tenantID, voucherID int64, actor string) (ledger.Voucher, error)
	Get(ctx context.Context, tenantID, voucherID int64) (ledger.Voucher, []ledger.Entry, error)
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	BaseCurrency string
	AllowUnpost  bool
	Tolerance    *decimal.Decimal
	Now          func() time.Time
	Logger       *slog.Logger
	Metrics      *metrics.Engine
	Audit        *audit.Recorder
}

type service struct {
	store        ledger.Store
	validator    voucher.Validator
	audit        *audit.Recorder
	metrics      *metrics.Engine
	log          *slog.Logger
	now          func() time.Time
	baseCurrency string
	allowUnpost  bool
}

func New(store ledger.Store, opts Options) Service {
	s := &service{
		store:        store,
		validator:    voucher.NewValidator(voucher.DefaultTolerance),
		audit:        opts.Audit,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		now:          opts.Now,
		baseCurrency: opts.BaseCurrency,
		allowUnpost:  opts.AllowUnpost,
	}
	if opts.Tolerance != nil {
		s.validator = voucher.NewValidator(*opts.Tolerance)
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.baseCurrency == "" {
		s.baseCurrency = "USD"
	}
	return s
}

func (s *service) Post(ctx context.Context, in PostInput) (ledger.Voucher, error) {
	in.reversalOf = nil
	var out ledger.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := s.postInTx(ctx, tx, in, false)
		out = v
		return err
	})
	if err != nil {
		s.failed("post", in.TenantID, 0, err)
		return ledger.Voucher{}, err
	}
	op := "post"
	if in.Draft {
		op = "draft"
	}
	s.metrics.IncPosted(op)
	s.log.Info("voucher created",
		"tenant_id", out.TenantID,
		"voucher_id", out.ID,
		"voucher_number", out.Number,
		"status", out.Status(),
		"lines", len(out.Lines),
		"actor", in.Actor,
	)
	return out, nil
}

func (s *service) Get(ctx context.Context, tenantID, voucherID int64) (ledger.Voucher, []ledger.Entry, error) {
	var (
		v       ledger.Voucher
		entries []ledger.Entry
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if v, err = tx.Vouchers().GetVoucher(ctx, tenantID, voucherID); err != nil {
			return err
		}
		entries, err = tx.Entries().VoucherEntries(ctx, tenantID, voucherID)
		return err
	})
	return v, entries, err
}

// failed logs and counts an aborted operation.
func (s *service) failed(op string, tenantID, voucherID int64, err error) {
	kind := string(errs.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	s.metrics.IncFailure(op, kind)
	s.log.Warn("voucher "+op+" failed",
		"tenant_id", tenantID,
		"voucher_id", voucherID,
		"kind", kind,
		"err", err,
	)
}

// Snapshot is the audit representation of a voucher header.
func Snapshot(v ledger.Voucher) map[string]any {
	out := map[string]any{
		"voucher_number": v.Number,
		"voucher_type":   v.Type,
		"voucher_date":   v.Date.Format(time.DateOnly),
		"total_amount":   v.TotalDebit.String(),
		"status":         v.Status(),
	}
	if v.ReversalVoucherID != nil {
		out["reversal_voucher_id"] = *v.ReversalVoucherID
	}
	if v.ReversedVoucherID != nil {
		out["reversed_voucher_id"] = *v.ReversedVoucherID
	}
	return out
}
