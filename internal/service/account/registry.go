package account

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// SortedUnique returns ids deduplicated in ascending order, the order in which
// account locks must be taken.
func SortedUnique(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LockInOrder takes the exclusive lock on every account in ids, lowest id
// first, and returns the locked rows. Two operations touching the same
// accounts therefore always queue in the same order.
func LockInOrder(ctx context.Context, repo ledger.AccountRepository, tenantID int64, ids []int64) (map[int64]ledger.Account, error) {
	locked := make(map[int64]ledger.Account, len(ids))
	for _, id := range SortedUnique(ids) {
		a, err := repo.LockAccount(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		locked[id] = a
	}
	return locked, nil
}

// RefreshBalance recomputes the cached current balance of a locked account
// from its ledger totals and stores it.
func RefreshBalance(ctx context.Context, tx ledger.Tx, a ledger.Account) (decimal.Decimal, error) {
	debit, credit, err := tx.Entries().Totals(ctx, a.TenantID, a.ID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := a.OpeningBalance.Add(a.Delta(debit, credit))
	if balance.Equal(a.CurrentBalance) {
		return balance, nil
	}
	if err := tx.Accounts().SetCurrentBalance(ctx, a.TenantID, a.ID, balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
