package ledger

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/meta"
)

// AccountType enumerates the broad classification of an account in the ledger.
type AccountType string

const (
	// AccountTypeAsset increases on the debit side and holds resources owned by the tenant.
	AccountTypeAsset AccountType = "ASSET"
	// AccountTypeLiability increases on the credit side and tracks obligations.
	AccountTypeLiability AccountType = "LIABILITY"
	// AccountTypeEquity captures the owner's residual interest in the entity.
	AccountTypeEquity AccountType = "EQUITY"
	// AccountTypeRevenue represents inflows that increase equity.
	AccountTypeRevenue AccountType = "REVENUE"
	// AccountTypeExpense represents outflows that decrease equity.
	AccountTypeExpense AccountType = "EXPENSE"
)

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side on which an account increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

func (n NormalBalance) Valid() bool { return n == NormalDebit || n == NormalCredit }

// Account is a node in a tenant's chart of accounts. CurrentBalance is a cache
// of OpeningBalance plus the signed sum of the account's live ledger entries.
type Account struct {
	ID             int64
	TenantID       int64
	Code           string
	Name           string
	Type           AccountType
	NormalBalance  NormalBalance
	ParentID       *int64
	OpeningBalance decimal.Decimal
	CurrentBalance decimal.Decimal
	// System marks reserved accounts that cannot be edited or deleted.
	System    bool
	Active    bool
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Delta returns the signed effect of a debit/credit pair on this account's
// balance, following its normal balance side.
func (a Account) Delta(debit, credit decimal.Decimal) decimal.Decimal {
	if a.NormalBalance == NormalCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// Postable reports whether vouchers may reference the account.
func (a Account) Postable() bool { return a.Active && !a.Deleted }

// VoucherStatus is derived from a voucher's flags.
type VoucherStatus string

const (
	StatusDraft    VoucherStatus = "DRAFT"
	StatusPosted   VoucherStatus = "POSTED"
	StatusReversed VoucherStatus = "REVERSED"
	StatusDeleted  VoucherStatus = "DELETED"
)

// Voucher is the header of a business transaction. Once posted only the
// reversal link may change.
type Voucher struct {
	ID              int64
	TenantID        int64
	Number          string
	Type            string
	Date            time.Time
	BaseCurrency    string
	ExchangeRate    decimal.Decimal
	TotalDebit      decimal.Decimal
	TotalCredit     decimal.Decimal
	Narration       string
	ReferenceType   string
	ReferenceID     *int64
	ReferenceNumber string
	Metadata        meta.Metadata
	Posted          bool
	// ReversedVoucherID is set on a reversal and points at the voucher it negates.
	ReversedVoucherID *int64
	// ReversalVoucherID is set on the original once it has been reversed.
	ReversalVoucherID *int64
	Deleted           bool
	CreatedBy         string
	CreatedAt         time.Time
	PostedAt          *time.Time
	Lines             []VoucherLine
}

func (v Voucher) Status() VoucherStatus {
	switch {
	case v.Deleted:
		return StatusDeleted
	case v.ReversalVoucherID != nil:
		return StatusReversed
	case v.Posted:
		return StatusPosted
	}
	return StatusDraft
}

// VoucherLine is one account movement inside a voucher. Exactly one of Debit
// and Credit is non-zero on a stored line.
type VoucherLine struct {
	ID          int64
	VoucherID   int64
	LineNo      int
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	// ReversesEntryID is only set on lines of a reversal voucher.
	ReversesEntryID *int64
}

// Entry is a posted ledger row. Balance is the running balance of the account
// up to and including this row, in (TransactionDate, ID) order.
type Entry struct {
	ID                int64
	TenantID          int64
	AccountID         int64
	VoucherID         int64
	VoucherLineID     int64
	TransactionDate   time.Time
	Debit             decimal.Decimal
	Credit            decimal.Decimal
	Balance           decimal.Decimal
	Description       string
	Reconciled        bool
	ReconciliationRef string
	// ReversedEntryID points at the entry this row negates.
	ReversedEntryID *int64
	Deleted         bool
	CreatedAt       time.Time
}

// Before reports whether e sorts before (date, id) in running-balance order.
func (e Entry) Before(date time.Time, id int64) bool {
	if !e.TransactionDate.Equal(date) {
		return e.TransactionDate.Before(date)
	}
	return e.ID < id
}

// FiscalPeriod is owned by an external collaborator; the engine only reads it.
type FiscalPeriod struct {
	ID        int64
	TenantID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Active    bool
	Closed    bool
}

// Covers reports whether d falls within the period, inclusive on both ends.
func (p FiscalPeriod) Covers(d time.Time) bool {
	d = DateOf(d)
	return !d.Before(DateOf(p.StartDate)) && !d.After(DateOf(p.EndDate))
}

// AuditAction enumerates the state changes recorded in the audit trail.
type AuditAction string

const (
	ActionCreate  AuditAction = "CREATE"
	ActionUpdate  AuditAction = "UPDATE"
	ActionPost    AuditAction = "POST"
	ActionUnpost  AuditAction = "UNPOST"
	ActionReverse AuditAction = "REVERSE"
	ActionDelete  AuditAction = "DELETE"
)

// AuditEntry is append-only.
type AuditEntry struct {
	ID         uuid.UUID
	TenantID   int64
	EntityType string
	EntityID   int64
	Action     AuditAction
	OldValue   json.RawMessage
	NewValue   json.RawMessage
	Username   string
	CreatedAt  time.Time
}

type ReconciliationStatus string

const (
	ReconciliationOpen      ReconciliationStatus = "OPEN"
	ReconciliationFinalized ReconciliationStatus = "FINALIZED"
)

// Reconciliation matches an account's ledger against one bank statement.
type Reconciliation struct {
	ID               int64
	TenantID         int64
	AccountID        int64
	StatementDate    time.Time
	StatementBalance decimal.Decimal
	Reference        string
	Status           ReconciliationStatus
	CreatedBy        string
	CreatedAt        time.Time
	FinalizedAt      *time.Time
}

// Ref is the value stamped on matched entries at finalization.
func (r Reconciliation) Ref() string {
	if r.Reference != "" {
		return r.Reference
	}
	return "REC-" + strconv.FormatInt(r.ID, 10)
}

type MatchType string

const (
	MatchExact   MatchType = "EXACT"
	MatchPartial MatchType = "PARTIAL"
	MatchManual  MatchType = "MANUAL"
	MatchAuto    MatchType = "AUTO"
)

func (m MatchType) Valid() bool {
	switch m {
	case MatchExact, MatchPartial, MatchManual, MatchAuto:
		return true
	}
	return false
}

// ReconciliationItem records one ledger entry matched to a statement line.
type ReconciliationItem struct {
	ID               int64
	ReconciliationID int64
	EntryID          int64
	StatementAmount  decimal.Decimal
	StatementDate    time.Time
	MatchType        MatchType
	CreatedBy        string
	CreatedAt        time.Time
}

// DateOf truncates t to a UTC calendar date. Transaction dates carry no time.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
