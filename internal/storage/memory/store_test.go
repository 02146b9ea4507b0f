package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func seedCash(s *Store) ledger.Account {
	return s.SeedAccount(ledger.Account{
		TenantID:      1,
		Code:          "CASH001",
		Name:          "Cash",
		Type:          ledger.AccountTypeAsset,
		NormalBalance: ledger.NormalDebit,
		Active:        true,
	})
}

func TestWithTx_RollbackHidesWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().CreateAccount(ctx, ledger.Account{TenantID: 1, Code: "BANK", Name: "Bank"})
		require.NoError(t, err)
		list, err := tx.Accounts().ListAccounts(ctx, 1)
		require.NoError(t, err)
		require.Len(t, list, 1, "own writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_ = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.Accounts().ListAccounts(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	})
}

func TestWithTx_CommitChecksUniqueCodes(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedCash(s)

	err := s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().CreateAccount(ctx, ledger.Account{TenantID: 1, Code: "CASH001"})
		return err
	})
	require.ErrorIs(t, err, errs.ErrDuplicateCode)

	// Same code in another tenant is fine.
	err = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().CreateAccount(ctx, ledger.Account{TenantID: 2, Code: "CASH001"})
		return err
	})
	require.NoError(t, err)
}

func TestLockAccount_TimesOut(t *testing.T) {
	s := New().WithLockTimeout(50 * time.Millisecond)
	ctx := context.Background()
	cash := seedCash(s)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.Accounts().LockAccount(ctx, 1, cash.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().LockAccount(ctx, 1, cash.ID)
		return err
	})
	require.ErrorIs(t, err, errs.ErrAccountLocked)
	assert.Equal(t, errs.KindConcurrency, errs.KindOf(err))
	assert.True(t, errs.Retryable(err))
	close(done)

	// Released at the end of the holder's transaction.
	require.Eventually(t, func() bool {
		return s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			_, err := tx.Accounts().LockAccount(ctx, 1, cash.ID)
			return err
		}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestLockAccount_Reentrant(t *testing.T) {
	s := New().WithLockTimeout(20 * time.Millisecond)
	cash := seedCash(s)
	err := s.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.Accounts().LockAccount(ctx, 1, cash.ID); err != nil {
			return err
		}
		_, err := tx.Accounts().LockAccount(ctx, 1, cash.ID)
		return err
	})
	require.NoError(t, err)
}

func TestLockAccount_OtherTenantNotFound(t *testing.T) {
	s := New()
	cash := seedCash(s)
	err := s.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Accounts().LockAccount(ctx, 2, cash.ID)
		return err
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEntries_OrderedByDateThenID(t *testing.T) {
	s := New()
	ctx := context.Background()
	cash := seedCash(s)

	insert := func(date time.Time, debit int64) {
		t.Helper()
		err := s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			_, err := tx.Entries().InsertEntry(ctx, ledger.Entry{
				TenantID:        1,
				AccountID:       cash.ID,
				VoucherID:       99,
				TransactionDate: date,
				Debit:           decimal.NewFromInt(debit),
			})
			return err
		})
		require.NoError(t, err)
	}
	insert(day.AddDate(0, 0, 2), 3)
	insert(day, 1)
	insert(day, 2)

	_ = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		rows, err := tx.Entries().AccountEntries(ctx, 1, cash.ID, ledger.EntryFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "1", rows[0].Debit.String())
		assert.Equal(t, "2", rows[1].Debit.String())
		assert.Equal(t, "3", rows[2].Debit.String())

		d, c, err := tx.Entries().SumThrough(ctx, 1, cash.ID, day)
		require.NoError(t, err)
		assert.True(t, d.Equal(decimal.NewFromInt(3)))
		assert.True(t, c.IsZero())

		after, err := tx.Entries().EntriesAfter(ctx, 1, cash.ID, rows[0].TransactionDate, rows[0].ID)
		require.NoError(t, err)
		require.Len(t, after, 2)
		assert.Equal(t, rows[1].ID, after[0].ID)

		require.NoError(t, tx.Entries().DeleteEntry(ctx, 1, rows[1].ID))
		rows, err = tx.Entries().AccountEntries(ctx, 1, cash.ID, ledger.EntryFilter{From: day.AddDate(0, 0, 1)})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		return nil
	})
}

func TestNextVoucherSequence_SurvivesRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	var first, second int64
	_ = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		first, _ = tx.Vouchers().NextVoucherSequence(ctx, 1, "JV", 2025)
		return errors.New("rollback")
	})
	_ = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		second, _ = tx.Vouchers().NextVoucherSequence(ctx, 1, "JV", 2025)
		return nil
	})
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestUpdateVoucher_KeepsLines(t *testing.T) {
	s := New()
	ctx := context.Background()
	var id int64
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := tx.Vouchers().CreateVoucher(ctx, ledger.Voucher{
			TenantID: 1,
			Number:   "JV-1",
			Lines:    []ledger.VoucherLine{{LineNo: 1, AccountID: 5}, {LineNo: 2, AccountID: 6}},
		})
		id = v.ID
		require.NotZero(t, v.Lines[0].ID)
		assert.Equal(t, v.ID, v.Lines[1].VoucherID)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := tx.Vouchers().UpdateVoucher(ctx, ledger.Voucher{ID: id, TenantID: 1, Number: "JV-1", Posted: true})
		require.NoError(t, err)
		assert.Len(t, v.Lines, 2)
		return nil
	}))
	_ = s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := tx.Vouchers().GetVoucher(ctx, 1, id)
		require.NoError(t, err)
		assert.True(t, v.Posted)
		assert.Len(t, v.Lines, 2)
		return nil
	})
}

func TestMarkReconciled_KeepsConcurrentBalanceUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	cash := seedCash(s)
	var entry ledger.Entry
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = tx.Entries().InsertEntry(ctx, ledger.Entry{TenantID: 1, AccountID: cash.ID, VoucherID: 1, TransactionDate: day, Debit: decimal.NewFromInt(50), Balance: decimal.NewFromInt(50)})
		return err
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.Entries().MarkReconciled(ctx, 1, []int64{entry.ID}, "REC-1"))
		got, err := tx.Entries().GetEntry(ctx, 1, entry.ID)
		require.NoError(t, err)
		assert.True(t, got.Reconciled, "own mark is visible inside the transaction")

		// Another transaction rewrites the running balance and commits first.
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, other ledger.Tx) error {
			return other.Entries().UpdateEntryBalance(ctx, 1, entry.ID, decimal.NewFromInt(60))
		}))
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.Entries().GetEntry(ctx, 1, entry.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(60)))
		assert.True(t, got.Reconciled)
		assert.Equal(t, "REC-1", got.ReconciliationRef)
		return nil
	}))
}

func TestMarkReconciled_SkipsDeletedEntries(t *testing.T) {
	s := New()
	ctx := context.Background()
	cash := seedCash(s)
	var entry ledger.Entry
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = tx.Entries().InsertEntry(ctx, ledger.Entry{TenantID: 1, AccountID: cash.ID, VoucherID: 1, TransactionDate: day, Debit: decimal.NewFromInt(5)})
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Entries().DeleteEntry(ctx, 1, entry.ID)
	}))
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Entries().MarkReconciled(ctx, 1, []int64{entry.ID}, "REC-1")
	}))

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.True(t, s.entries[entry.ID].Deleted)
	assert.False(t, s.entries[entry.ID].Reconciled)
}
