// Package reconcile matches ledger entries of one account against the lines
// of an external bank statement. Matching only appends reconciliation items;
// ledger entries change solely when a reconciliation is finalized, and
// account balances never change.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/audit"
)

// DefaultWindow is how far a statement date may sit from an entry's
// transaction date for AutoMatch to pair them.
const DefaultWindow = 3 * 24 * time.Hour

// StatementLine is one line of a bank statement. Amount is signed in the
// account's natural direction: for a bank (asset) account deposits are
// positive and withdrawals negative.
type StatementLine struct {
	Amount    decimal.Decimal
	Date      time.Time
	Reference string
}

type MatchInput struct {
	ReconciliationID int64
	EntryID          int64
	StatementAmount  decimal.Decimal
	StatementDate    time.Time
	MatchType        ledger.MatchType
	Actor            string
}

type AutoMatchResult struct {
	Matched   []ledger.ReconciliationItem
	Unmatched []StatementLine
}

// Summary compares the book balance as of the statement date with the
// statement's closing balance.
type Summary struct {
	Reconciliation   ledger.Reconciliation
	MatchedCount     int
	BookBalance      decimal.Decimal
	StatementBalance decimal.Decimal
	Difference       decimal.Decimal
}

type Service interface {
	Create(ctx context.Context, r ledger.Reconciliation) (ledger.Reconciliation, error)
	Get(ctx context.Context, tenantID, id int64) (ledger.Reconciliation, []ledger.ReconciliationItem, error)
	Unmatched(ctx context.Context, tenantID, id int64) ([]ledger.Entry, error)
	Match(ctx context.Context, tenantID int64, in MatchInput) (ledger.ReconciliationItem, error)
	AutoMatch(ctx context.Context, tenantID, id int64, lines []StatementLine, actor string) (AutoMatchResult, error)
	Finalize(ctx context.Context, tenantID, id int64, actor string) (Summary, error)
}

type Options struct {
	Window time.Duration
	Now    func() time.Time
	Audit  *audit.Recorder
	Logger *slog.Logger
}

type service struct {
	store  ledger.Store
	window time.Duration
	now    func() time.Time
	audit  *audit.Recorder
	log    *slog.Logger
}

func New(store ledger.Store, opts Options) Service {
	s := &service{store: store, window: opts.Window, now: opts.Now, audit: opts.Audit, log: opts.Logger}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *service) Create(ctx context.Context, r ledger.Reconciliation) (ledger.Reconciliation, error) {
	if r.StatementDate.IsZero() {
		return ledger.Reconciliation{}, errs.WithFields(errs.ErrInvalid, map[string]string{"statement_date": "required"})
	}
	r.StatementDate = ledger.DateOf(r.StatementDate)
	r.Reference = strings.TrimSpace(r.Reference)
	r.Status = ledger.ReconciliationOpen
	r.CreatedAt = s.now().UTC()
	r.FinalizedAt = nil
	var out ledger.Reconciliation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.Accounts().GetAccount(ctx, r.TenantID, r.AccountID)
		if errors.Is(err, errs.ErrNotFound) || (err == nil && a.Deleted) {
			return errs.Wrap(errs.ErrNotFound, "account %d not found", r.AccountID)
		}
		if err != nil {
			return err
		}
		if out, err = tx.Reconciliations().CreateReconciliation(ctx, r); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   out.TenantID,
			EntityType: audit.EntityReconciliation,
			EntityID:   out.ID,
			Action:     ledger.ActionCreate,
			New:        snapshot(out),
			Actor:      r.CreatedBy,
		})
	})
	return out, err
}

func (s *service) Get(ctx context.Context, tenantID, id int64) (ledger.Reconciliation, []ledger.ReconciliationItem, error) {
	var (
		r     ledger.Reconciliation
		items []ledger.ReconciliationItem
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if r, err = tx.Reconciliations().GetReconciliation(ctx, tenantID, id); err != nil {
			return err
		}
		items, err = tx.Reconciliations().ListItems(ctx, r.ID)
		return err
	})
	return r, items, err
}

// Unmatched lists the account's entries dated on or before the statement date
// that are neither matched in this reconciliation nor reconciled by an earlier
// one, in (date, id) order.
func (s *service) Unmatched(ctx context.Context, tenantID, id int64) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.Reconciliations().GetReconciliation(ctx, tenantID, id)
		if err != nil {
			return err
		}
		out, err = unmatched(ctx, tx, r)
		return err
	})
	return out, err
}

func unmatched(ctx context.Context, tx ledger.Tx, r ledger.Reconciliation) ([]ledger.Entry, error) {
	entries, err := tx.Entries().AccountEntries(ctx, r.TenantID, r.AccountID, ledger.EntryFilter{To: r.StatementDate})
	if err != nil {
		return nil, err
	}
	items, err := tx.Reconciliations().ListItems(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	matched := make(map[int64]struct{}, len(items))
	for _, it := range items {
		matched[it.EntryID] = struct{}{}
	}
	out := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := matched[e.ID]; ok || e.Reconciled {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *service) Match(ctx context.Context, tenantID int64, in MatchInput) (ledger.ReconciliationItem, error) {
	if in.MatchType == "" {
		in.MatchType = ledger.MatchManual
	}
	if !in.MatchType.Valid() {
		return ledger.ReconciliationItem{}, errs.WithFields(errs.ErrInvalid, map[string]string{"match_type": "must be EXACT, PARTIAL, MANUAL or AUTO"})
	}
	if in.StatementDate.IsZero() {
		return ledger.ReconciliationItem{}, errs.WithFields(errs.ErrInvalid, map[string]string{"statement_date": "required"})
	}
	var out ledger.ReconciliationItem
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := lockOpen(ctx, tx, tenantID, in.ReconciliationID)
		if err != nil {
			return err
		}
		e, err := tx.Entries().GetEntry(ctx, tenantID, in.EntryID)
		if err != nil {
			return err
		}
		a, err := tx.Accounts().GetAccount(ctx, tenantID, r.AccountID)
		if err != nil {
			return err
		}
		if err := checkMatchable(ctx, tx, r, a, e, in); err != nil {
			return err
		}
		out, err = s.insertItem(ctx, tx, r, e, in)
		return err
	})
	return out, err
}

func checkMatchable(ctx context.Context, tx ledger.Tx, r ledger.Reconciliation, a ledger.Account, e ledger.Entry, in MatchInput) error {
	if e.AccountID != r.AccountID {
		return errs.Wrap(errs.ErrWrongAccount, "entry %d belongs to account %d, reconciliation is for account %d", e.ID, e.AccountID, r.AccountID)
	}
	if e.TransactionDate.After(r.StatementDate) {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"entry_id": "entry is dated after the statement date"})
	}
	if e.Reconciled {
		return errs.Wrap(errs.ErrReconciled, "entry %d already reconciled under %s", e.ID, e.ReconciliationRef)
	}
	if in.MatchType == ledger.MatchExact && !in.StatementAmount.Equal(a.Delta(e.Debit, e.Credit)) {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"statement_amount": "an EXACT match must equal the entry amount"})
	}
	items, err := tx.Reconciliations().ListItems(ctx, r.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.EntryID == e.ID {
			return errs.Wrap(errs.ErrAlreadyMatched, "entry %d already matched in reconciliation %d", e.ID, r.ID)
		}
	}
	return nil
}

func (s *service) insertItem(ctx context.Context, tx ledger.Tx, r ledger.Reconciliation, e ledger.Entry, in MatchInput) (ledger.ReconciliationItem, error) {
	item, err := tx.Reconciliations().InsertItem(ctx, ledger.ReconciliationItem{
		ReconciliationID: r.ID,
		EntryID:          e.ID,
		StatementAmount:  in.StatementAmount,
		StatementDate:    ledger.DateOf(in.StatementDate),
		MatchType:        in.MatchType,
		CreatedBy:        in.Actor,
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return ledger.ReconciliationItem{}, err
	}
	err = s.audit.Log(ctx, tx.Audit(), audit.Record{
		TenantID:   r.TenantID,
		EntityType: audit.EntityReconciliation,
		EntityID:   r.ID,
		Action:     ledger.ActionUpdate,
		New: map[string]any{
			"matched_entry_id": e.ID,
			"statement_amount": in.StatementAmount.String(),
			"match_type":       in.MatchType,
		},
		Actor: in.Actor,
	})
	return item, err
}

// AutoMatch pairs each statement line, in input order, with the unmatched
// entry of equal signed amount closest in date within the window; ties go to
// the lower entry id. Every pair is recorded as an AUTO match in one
// transaction.
func (s *service) AutoMatch(ctx context.Context, tenantID, id int64, lines []StatementLine, actor string) (AutoMatchResult, error) {
	var res AutoMatchResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		res = AutoMatchResult{}
		r, err := lockOpen(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		a, err := tx.Accounts().GetAccount(ctx, tenantID, r.AccountID)
		if err != nil {
			return err
		}
		candidates, err := unmatched(ctx, tx, r)
		if err != nil {
			return err
		}
		used := make(map[int64]bool, len(candidates))
		for _, ln := range lines {
			best := -1
			var bestGap time.Duration
			for i, e := range candidates {
				if used[e.ID] || !a.Delta(e.Debit, e.Credit).Equal(ln.Amount) {
					continue
				}
				gap := absDuration(ledger.DateOf(ln.Date).Sub(e.TransactionDate))
				if gap > s.window {
					continue
				}
				if best < 0 || gap < bestGap {
					best, bestGap = i, gap
				}
			}
			if best < 0 {
				res.Unmatched = append(res.Unmatched, ln)
				continue
			}
			e := candidates[best]
			used[e.ID] = true
			item, err := s.insertItem(ctx, tx, r, e, MatchInput{
				ReconciliationID: r.ID,
				EntryID:          e.ID,
				StatementAmount:  ln.Amount,
				StatementDate:    ln.Date,
				MatchType:        ledger.MatchAuto,
				Actor:            actor,
			})
			if err != nil {
				return err
			}
			res.Matched = append(res.Matched, item)
		}
		return nil
	})
	if err != nil {
		return AutoMatchResult{}, err
	}
	s.log.Info("statement auto-matched",
		"tenant_id", tenantID,
		"reconciliation_id", id,
		"matched", len(res.Matched),
		"unmatched", len(res.Unmatched),
	)
	return res, nil
}

// Finalize stamps every matched entry as reconciled and closes the
// reconciliation to further matches.
func (s *service) Finalize(ctx context.Context, tenantID, id int64, actor string) (Summary, error) {
	var sum Summary
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := lockOpen(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		// Ledger rows are only written under their account's lock.
		a, err := tx.Accounts().LockAccount(ctx, tenantID, r.AccountID)
		if err != nil {
			return err
		}
		items, err := tx.Reconciliations().ListItems(ctx, r.ID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.EntryID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := tx.Entries().MarkReconciled(ctx, tenantID, ids, r.Ref()); err != nil {
			return err
		}
		debit, credit, err := tx.Entries().SumThrough(ctx, tenantID, a.ID, r.StatementDate)
		if err != nil {
			return err
		}
		before := r
		now := s.now().UTC()
		r.Status = ledger.ReconciliationFinalized
		r.FinalizedAt = &now
		if r, err = tx.Reconciliations().UpdateReconciliation(ctx, r); err != nil {
			return err
		}
		book := a.OpeningBalance.Add(a.Delta(debit, credit))
		sum = Summary{
			Reconciliation:   r,
			MatchedCount:     len(items),
			BookBalance:      book,
			StatementBalance: r.StatementBalance,
			Difference:       r.StatementBalance.Sub(book),
		}
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityReconciliation,
			EntityID:   r.ID,
			Action:     ledger.ActionUpdate,
			Old:        snapshot(before),
			New:        snapshot(r),
			Actor:      actor,
		})
	})
	if err != nil {
		return Summary{}, err
	}
	s.log.Info("reconciliation finalized",
		"tenant_id", tenantID,
		"reconciliation_id", id,
		"matched", sum.MatchedCount,
		"difference", sum.Difference.String(),
		"actor", actor,
	)
	return sum, nil
}

func lockOpen(ctx context.Context, tx ledger.Tx, tenantID, id int64) (ledger.Reconciliation, error) {
	r, err := tx.Reconciliations().LockReconciliation(ctx, tenantID, id)
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	if r.Status == ledger.ReconciliationFinalized {
		return ledger.Reconciliation{}, errs.Wrap(errs.ErrFinalized, "reconciliation %d is finalized", id)
	}
	return r, nil
}

func snapshot(r ledger.Reconciliation) map[string]any {
	return map[string]any{
		"account_id":        r.AccountID,
		"statement_date":    r.StatementDate.Format(time.DateOnly),
		"statement_balance": r.StatementBalance.String(),
		"reference":         r.Ref(),
		"status":            r.Status,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
