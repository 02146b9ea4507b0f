// Package balance is the authoritative definition of an account's balances.
// Walking an account's live entries in (transaction date, id) order from its
// opening balance yields each entry's running balance and, after the last
// entry, the account's current balance. The posting engine maintains the same
// values incrementally; Verify reports where the two disagree and the
// Recalculate calls rewrite the stored values.
package balance

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Result counts rows rewritten by a recalculation.
type Result struct {
	UpdatedAccounts int
	UpdatedEntries  int
}

func (r *Result) add(o Result) {
	r.UpdatedAccounts += o.UpdatedAccounts
	r.UpdatedEntries += o.UpdatedEntries
}

type AccountDrift struct {
	AccountID int64
	Code      string
	Stored    decimal.Decimal
	Computed  decimal.Decimal
}

type EntryDrift struct {
	EntryID   int64
	AccountID int64
	Stored    decimal.Decimal
	Computed  decimal.Decimal
}

// Report lists every stored balance that disagrees with the ledger.
type Report struct {
	Accounts []AccountDrift
	Entries  []EntryDrift
}

func (r Report) Clean() bool { return len(r.Accounts) == 0 && len(r.Entries) == 0 }

type Options struct {
	// Workers bounds how many accounts are processed concurrently.
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Engine
}

type Recalculator struct {
	store   ledger.Store
	workers int
	log     *slog.Logger
	metrics *metrics.Engine
}

func NewRecalculator(store ledger.Store, opts Options) *Recalculator {
	r := &Recalculator{store: store, workers: opts.Workers, log: opts.Logger, metrics: opts.Metrics}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// RecalculateAccount rewrites the account's drifted entry balances and its
// current balance under the account lock. A second call with no postings in
// between updates nothing.
func (r *Recalculator) RecalculateAccount(ctx context.Context, tenantID, accountID int64) (Result, error) {
	var res Result
	err := r.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.Accounts().LockAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		accDrift, entryDrifts, err := walk(ctx, tx, a)
		if err != nil {
			return err
		}
		for _, d := range entryDrifts {
			if err := tx.Entries().UpdateEntryBalance(ctx, tenantID, d.EntryID, d.Computed); err != nil {
				return err
			}
		}
		if accDrift != nil {
			if err := tx.Accounts().SetCurrentBalance(ctx, tenantID, a.ID, accDrift.Computed); err != nil {
				return err
			}
			res.UpdatedAccounts = 1
		}
		res.UpdatedEntries = len(entryDrifts)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	r.metrics.AddRecalculated(res.UpdatedAccounts, res.UpdatedEntries)
	if res.UpdatedAccounts > 0 || res.UpdatedEntries > 0 {
		r.log.Info("account balances repaired",
			"tenant_id", tenantID,
			"account_id", accountID,
			"updated_entries", res.UpdatedEntries,
		)
	}
	return res, nil
}

// RecalculateAll repairs every live account of the tenant. Each account is
// repaired in its own transaction holding only that account's lock.
func (r *Recalculator) RecalculateAll(ctx context.Context, tenantID int64) (Result, error) {
	accounts, err := r.accountIDs(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	var (
		mu    sync.Mutex
		total Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range accounts {
		g.Go(func() error {
			res, err := r.RecalculateAccount(gctx, tenantID, id)
			if err != nil {
				return err
			}
			mu.Lock()
			total.add(res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	r.log.Info("balances recalculated",
		"tenant_id", tenantID,
		"accounts", len(accounts),
		"updated_accounts", total.UpdatedAccounts,
		"updated_entries", total.UpdatedEntries,
	)
	return total, nil
}

// Verify compares stored balances with the ledger without writing. When
// anything drifted it returns the report together with errs.ErrBalanceDrift.
func (r *Recalculator) Verify(ctx context.Context, tenantID int64) (Report, error) {
	accounts, err := r.accountIDs(ctx, tenantID)
	if err != nil {
		return Report{}, err
	}
	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range accounts {
		g.Go(func() error {
			return r.store.WithTx(gctx, func(ctx context.Context, tx ledger.Tx) error {
				a, err := tx.Accounts().LockAccount(ctx, tenantID, id)
				if err != nil {
					return err
				}
				accDrift, entryDrifts, err := walk(ctx, tx, a)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if accDrift != nil {
					report.Accounts = append(report.Accounts, *accDrift)
				}
				report.Entries = append(report.Entries, entryDrifts...)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	sort.Slice(report.Accounts, func(i, j int) bool { return report.Accounts[i].AccountID < report.Accounts[j].AccountID })
	sort.Slice(report.Entries, func(i, j int) bool { return report.Entries[i].EntryID < report.Entries[j].EntryID })
	r.metrics.SetDrift(len(report.Accounts) + len(report.Entries))
	if !report.Clean() {
		r.log.Warn("balance drift detected",
			"tenant_id", tenantID,
			"accounts", len(report.Accounts),
			"entries", len(report.Entries),
		)
		return report, errs.Wrap(errs.ErrBalanceDrift, "%d accounts and %d ledger entries disagree with the ledger", len(report.Accounts), len(report.Entries))
	}
	return report, nil
}

func (r *Recalculator) accountIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	var ids []int64
	err := r.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		all, err := tx.Accounts().ListAccounts(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, a := range all {
			if !a.Deleted {
				ids = append(ids, a.ID)
			}
		}
		return nil
	})
	return ids, err
}

// walk recomputes the account's running balances in (date, id) order and
// returns what differs from the stored values.
func walk(ctx context.Context, tx ledger.Tx, a ledger.Account) (*AccountDrift, []EntryDrift, error) {
	entries, err := tx.Entries().AccountEntries(ctx, a.TenantID, a.ID, ledger.EntryFilter{})
	if err != nil {
		return nil, nil, err
	}
	var drifts []EntryDrift
	running := a.OpeningBalance
	for _, e := range entries {
		running = running.Add(a.Delta(e.Debit, e.Credit))
		if !e.Balance.Equal(running) {
			drifts = append(drifts, EntryDrift{EntryID: e.ID, AccountID: a.ID, Stored: e.Balance, Computed: running})
		}
	}
	if a.CurrentBalance.Equal(running) {
		return nil, drifts, nil
	}
	return &AccountDrift{AccountID: a.ID, Code: a.Code, Stored: a.CurrentBalance, Computed: running}, drifts, nil
}
