package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountRepository reads and writes chart-of-accounts rows. LockAccount
// blocks until the row is exclusively held by the enclosing transaction or
// the store's lock timeout elapses (errs.ErrAccountLocked).
type AccountRepository interface {
	GetAccount(ctx context.Context, tenantID, id int64) (Account, error)
	GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	LockAccount(ctx context.Context, tenantID, id int64) (Account, error)
	AccountsByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]Account, error)
	CreateAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) (Account, error)
	SetCurrentBalance(ctx context.Context, tenantID, id int64, balance decimal.Decimal) error
	CountChildren(ctx context.Context, tenantID, id int64) (int, error)
}

// VoucherRepository persists voucher headers and their lines.
type VoucherRepository interface {
	// CreateVoucher stores the header and lines and returns them with ids assigned.
	CreateVoucher(ctx context.Context, v Voucher) (Voucher, error)
	GetVoucher(ctx context.Context, tenantID, id int64) (Voucher, error)
	// LockVoucher is GetVoucher holding the header row for the transaction.
	LockVoucher(ctx context.Context, tenantID, id int64) (Voucher, error)
	// UpdateVoucher writes header state only (posted, deleted, reversal links).
	UpdateVoucher(ctx context.Context, v Voucher) (Voucher, error)
	VoucherNumberExists(ctx context.Context, tenantID int64, number string) (bool, error)
	// NextVoucherSequence returns the next number in the tenant/type/year series.
	NextVoucherSequence(ctx context.Context, tenantID int64, voucherType string, year int) (int64, error)
}

// EntryFilter narrows AccountEntries. Zero dates are unbounded.
type EntryFilter struct {
	From time.Time
	To   time.Time
}

// LedgerRepository owns posted ledger rows. Deleted rows are invisible to every
// read method.
type LedgerRepository interface {
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	GetEntry(ctx context.Context, tenantID, id int64) (Entry, error)
	// SumThrough totals debits and credits of the account's rows dated on or
	// before date.
	SumThrough(ctx context.Context, tenantID, accountID int64, date time.Time) (debit, credit decimal.Decimal, err error)
	// Totals is SumThrough over the whole history.
	Totals(ctx context.Context, tenantID, accountID int64) (debit, credit decimal.Decimal, err error)
	// EntriesAfter returns rows strictly after (date, id) in running-balance order.
	EntriesAfter(ctx context.Context, tenantID, accountID int64, date time.Time, id int64) ([]Entry, error)
	// AccountEntries returns rows in (TransactionDate, ID) order.
	AccountEntries(ctx context.Context, tenantID, accountID int64, f EntryFilter) ([]Entry, error)
	VoucherEntries(ctx context.Context, tenantID, voucherID int64) ([]Entry, error)
	UpdateEntryBalance(ctx context.Context, tenantID, id int64, balance decimal.Decimal) error
	DeleteEntry(ctx context.Context, tenantID, id int64) error
	MarkReconciled(ctx context.Context, tenantID int64, ids []int64, ref string) error
	HasEntries(ctx context.Context, tenantID, accountID int64) (bool, error)
}

// PeriodRepository is the read side of the external fiscal-period owner.
type PeriodRepository interface {
	// PeriodsCovering returns every period of the tenant whose range includes date.
	PeriodsCovering(ctx context.Context, tenantID int64, date time.Time) ([]FiscalPeriod, error)
}

// AuditFilter narrows ListAudit. Zero values are unbounded.
type AuditFilter struct {
	EntityType string
	EntityID   int64
	Limit      int
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, tenantID int64, f AuditFilter) ([]AuditEntry, error)
}

type ReconciliationRepository interface {
	CreateReconciliation(ctx context.Context, r Reconciliation) (Reconciliation, error)
	GetReconciliation(ctx context.Context, tenantID, id int64) (Reconciliation, error)
	LockReconciliation(ctx context.Context, tenantID, id int64) (Reconciliation, error)
	UpdateReconciliation(ctx context.Context, r Reconciliation) (Reconciliation, error)
	ListItems(ctx context.Context, reconciliationID int64) ([]ReconciliationItem, error)
	InsertItem(ctx context.Context, item ReconciliationItem) (ReconciliationItem, error)
}

// Tx exposes the repositories bound to one unit of work. Writes become visible
// to other transactions only when the enclosing WithTx returns nil.
type Tx interface {
	Accounts() AccountRepository
	Vouchers() VoucherRepository
	Entries() LedgerRepository
	Periods() PeriodRepository
	Audit() AuditRepository
	Reconciliations() ReconciliationRepository
}

// Store runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. Row locks taken through the Tx are released at the
// end of the transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
