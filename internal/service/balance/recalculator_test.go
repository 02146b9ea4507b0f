package balance_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/metrics"
	"github.com/tinoosan/bizledger/internal/service/balance"
	"github.com/tinoosan/bizledger/internal/service/journal"
	"github.com/tinoosan/bizledger/internal/service/voucher"
	"github.com/tinoosan/bizledger/internal/storage/memory"
)

var day = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// seed posts three vouchers between cash and revenue and returns the store
// with the cash account.
func seed(t *testing.T) (*memory.Store, ledger.Account, ledger.Account) {
	t.Helper()
	store := memory.New()
	store.SeedPeriod(ledger.FiscalPeriod{TenantID: 1, Name: "FY", StartDate: day.AddDate(0, -1, 0), EndDate: day.AddDate(0, 6, 0), Active: true})
	cash := store.SeedAccount(ledger.Account{TenantID: 1, Code: "CASH001", Name: "Cash", Type: ledger.AccountTypeAsset, NormalBalance: ledger.NormalDebit, OpeningBalance: d("1000"), Active: true})
	rev := store.SeedAccount(ledger.Account{TenantID: 1, Code: "SAL001", Name: "Sales", Type: ledger.AccountTypeRevenue, NormalBalance: ledger.NormalCredit, Active: true})
	svc := journal.New(store, journal.Options{Logger: testLogger(), Now: func() time.Time { return day }})
	for i, amt := range []string{"10", "20", "30"} {
		_, err := svc.Post(context.Background(), journal.PostInput{
			TenantID: 1,
			Date:     day.AddDate(0, 0, 2-i),
			Lines:    []voucher.Line{{AccountID: cash.ID, Debit: d(amt)}, {AccountID: rev.ID, Credit: d(amt)}},
		})
		require.NoError(t, err)
	}
	return store, cash, rev
}

func TestVerify_CleanLedger(t *testing.T) {
	store, _, _ := seed(t)
	report, err := balance.NewRecalculator(store, balance.Options{Workers: 4, Logger: testLogger()}).Verify(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestVerify_ReportsDriftWithoutWriting(t *testing.T) {
	store, cash, _ := seed(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	r := balance.NewRecalculator(store, balance.Options{Workers: 2, Logger: testLogger(), Metrics: metrics.NewEngine(reg)})

	var first ledger.Entry
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		rows, err := tx.Entries().AccountEntries(ctx, 1, cash.ID, ledger.EntryFilter{})
		first = rows[0]
		return err
	}))
	store.TamperEntryBalance(first.ID, d("1"))
	store.TamperAccountBalance(cash.ID, d("5"))

	report, err := r.Verify(ctx, 1)
	require.ErrorIs(t, err, errs.ErrBalanceDrift)
	assert.Equal(t, errs.KindIntegrity, errs.KindOf(err))
	require.Len(t, report.Accounts, 1)
	assert.Equal(t, cash.ID, report.Accounts[0].AccountID)
	assert.True(t, report.Accounts[0].Computed.Equal(d("1060")))
	require.Len(t, report.Entries, 1)
	assert.Equal(t, first.ID, report.Entries[0].EntryID)
	assert.True(t, report.Entries[0].Computed.Equal(d("1030")))

	// Verify never repairs.
	_, err = r.Verify(ctx, 1)
	require.ErrorIs(t, err, errs.ErrBalanceDrift)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP ledger_balance_drift_rows Drifted accounts plus entries found by the last verification.
# TYPE ledger_balance_drift_rows gauge
ledger_balance_drift_rows 2
`), "ledger_balance_drift_rows"))
}

func TestRecalculate_RepairsAndIsIdempotent(t *testing.T) {
	store, cash, rev := seed(t)
	ctx := context.Background()
	r := balance.NewRecalculator(store, balance.Options{Workers: 3, Logger: testLogger()})

	var rows []ledger.Entry
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rows, err = tx.Entries().AccountEntries(ctx, 1, cash.ID, ledger.EntryFilter{})
		return err
	}))
	for _, e := range rows {
		store.TamperEntryBalance(e.ID, decimal.Zero)
	}
	store.TamperAccountBalance(rev.ID, d("-3"))

	res, err := r.RecalculateAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedAccounts)
	assert.Equal(t, 3, res.UpdatedEntries)

	res, err = r.RecalculateAll(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedAccounts)
	assert.Zero(t, res.UpdatedEntries)

	report, err := r.Verify(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestRecalculateAccount_UnknownAccount(t *testing.T) {
	store, _, _ := seed(t)
	_, err := balance.NewRecalculator(store, balance.Options{Logger: testLogger()}).RecalculateAccount(context.Background(), 1, 9999)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
