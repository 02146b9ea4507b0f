package v1

import (
	"fmt"
	"time"

	"github.com/govalues/money"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/balance"
	"github.com/tinoosan/bizledger/internal/service/reconcile"
)

// dateLayout is the wire format of calendar dates.
const dateLayout = time.DateOnly

// Vouchers

type postVoucherRequest struct {
	Number          string            `json:"voucher_number" validate:"omitempty,max=64"`
	Type            string            `json:"voucher_type" validate:"omitempty,max=8"`
	Date            string            `json:"voucher_date" validate:"required,datetime=2006-01-02"`
	BaseCurrency    string            `json:"base_currency" validate:"omitempty,len=3"`
	ExchangeRate    *decimal.Decimal  `json:"exchange_rate,omitempty"`
	Narration       string            `json:"narration" validate:"max=1000"`
	ReferenceType   string            `json:"reference_type" validate:"max=64"`
	ReferenceID     *int64            `json:"reference_id,omitempty"`
	ReferenceNumber string            `json:"reference_number" validate:"max=64"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Draft           bool              `json:"draft"`
	Lines           []voucherLineDTO  `json:"lines" validate:"required,min=1,dive"`
}

// voucherLineDTO takes amounts either as decimals or in minor units of the
// voucher currency.
type voucherLineDTO struct {
	AccountID   int64            `json:"account_id" validate:"required,gt=0"`
	Debit       *decimal.Decimal `json:"debit,omitempty"`
	Credit      *decimal.Decimal `json:"credit,omitempty"`
	DebitMinor  *int64           `json:"debit_minor,omitempty" validate:"omitempty,gte=0"`
	CreditMinor *int64           `json:"credit_minor,omitempty" validate:"omitempty,gte=0"`
	Description string           `json:"description" validate:"max=500"`
}

// amount resolves one side of a line. Giving both forms is rejected.
func lineAmount(dec *decimal.Decimal, minor *int64, currency, field string) (decimal.Decimal, error) {
	switch {
	case dec != nil && minor != nil:
		return decimal.Zero, errs.WithFields(errs.ErrInvalid, map[string]string{field: "give either a decimal or a minor-unit amount"})
	case dec != nil:
		return *dec, nil
	case minor != nil:
		amt, err := money.NewAmountFromMinorUnits(currency, *minor)
		if err != nil {
			return decimal.Zero, errs.WithFields(errs.ErrInvalid, map[string]string{field: err.Error()})
		}
		return decimal.RequireFromString(amt.Decimal().String()), nil
	}
	return decimal.Zero, nil
}

type voucherLineResponse struct {
	ID              int64           `json:"id"`
	LineNo          int             `json:"line_no"`
	AccountID       int64           `json:"account_id"`
	Debit           decimal.Decimal `json:"debit"`
	Credit          decimal.Decimal `json:"credit"`
	DebitMinor      int64           `json:"debit_minor"`
	CreditMinor     int64           `json:"credit_minor"`
	Description     string          `json:"description,omitempty"`
	ReversesEntryID *int64          `json:"reverses_entry_id,omitempty"`
}

type voucherResponse struct {
	ID                int64                 `json:"id"`
	Number            string                `json:"voucher_number"`
	Type              string                `json:"voucher_type"`
	Date              string                `json:"voucher_date"`
	Status            ledger.VoucherStatus  `json:"status"`
	BaseCurrency      string                `json:"base_currency"`
	ExchangeRate      decimal.Decimal       `json:"exchange_rate"`
	TotalDebit        decimal.Decimal       `json:"total_debit"`
	TotalCredit       decimal.Decimal       `json:"total_credit"`
	Narration         string                `json:"narration,omitempty"`
	ReferenceType     string                `json:"reference_type,omitempty"`
	ReferenceID       *int64                `json:"reference_id,omitempty"`
	ReferenceNumber   string                `json:"reference_number,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
	ReversedVoucherID *int64                `json:"reversed_voucher_id,omitempty"`
	ReversalVoucherID *int64                `json:"reversal_voucher_id,omitempty"`
	CreatedBy         string                `json:"created_by"`
	CreatedAt         time.Time             `json:"created_at"`
	PostedAt          *time.Time            `json:"posted_at,omitempty"`
	Lines             []voucherLineResponse `json:"lines"`
	Entries           []entryResponse       `json:"entries,omitempty"`
}

// minorUnits renders d in the currency's minor units; unknown currencies use scale 2.
func minorUnits(d decimal.Decimal, currency string) int64 {
	scale := int32(2)
	if cur, err := money.ParseCurr(currency); err == nil {
		scale = int32(cur.Scale())
	}
	return d.Shift(scale).IntPart()
}

func toVoucherResponse(v ledger.Voucher, entries []ledger.Entry) voucherResponse {
	out := voucherResponse{
		ID:                v.ID,
		Number:            v.Number,
		Type:              v.Type,
		Date:              v.Date.Format(dateLayout),
		Status:            v.Status(),
		BaseCurrency:      v.BaseCurrency,
		ExchangeRate:      v.ExchangeRate,
		TotalDebit:        v.TotalDebit,
		TotalCredit:       v.TotalCredit,
		Narration:         v.Narration,
		ReferenceType:     v.ReferenceType,
		ReferenceID:       v.ReferenceID,
		ReferenceNumber:   v.ReferenceNumber,
		Metadata:          map[string]string(v.Metadata),
		ReversedVoucherID: v.ReversedVoucherID,
		ReversalVoucherID: v.ReversalVoucherID,
		CreatedBy:         v.CreatedBy,
		CreatedAt:         v.CreatedAt,
		PostedAt:          v.PostedAt,
		Lines:             make([]voucherLineResponse, 0, len(v.Lines)),
	}
	for _, l := range v.Lines {
		out.Lines = append(out.Lines, voucherLineResponse{
			ID:              l.ID,
			LineNo:          l.LineNo,
			AccountID:       l.AccountID,
			Debit:           l.Debit,
			Credit:          l.Credit,
			DebitMinor:      minorUnits(l.Debit, v.BaseCurrency),
			CreditMinor:     minorUnits(l.Credit, v.BaseCurrency),
			Description:     l.Description,
			ReversesEntryID: l.ReversesEntryID,
		})
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, toEntryResponse(e))
	}
	return out
}

// Ledger rows

type entryResponse struct {
	ID                int64           `json:"id"`
	AccountID         int64           `json:"account_id"`
	VoucherID         int64           `json:"voucher_id"`
	VoucherLineID     int64           `json:"voucher_line_id"`
	TransactionDate   string          `json:"transaction_date"`
	Debit             decimal.Decimal `json:"debit"`
	Credit            decimal.Decimal `json:"credit"`
	Balance           decimal.Decimal `json:"balance"`
	Description       string          `json:"description,omitempty"`
	Reconciled        bool            `json:"is_reconciled"`
	ReconciliationRef string          `json:"reconciliation_ref,omitempty"`
	ReversedEntryID   *int64          `json:"reversed_entry_id,omitempty"`
}

func toEntryResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:                e.ID,
		AccountID:         e.AccountID,
		VoucherID:         e.VoucherID,
		VoucherLineID:     e.VoucherLineID,
		TransactionDate:   e.TransactionDate.Format(dateLayout),
		Debit:             e.Debit,
		Credit:            e.Credit,
		Balance:           e.Balance,
		Description:       e.Description,
		Reconciled:        e.Reconciled,
		ReconciliationRef: e.ReconciliationRef,
		ReversedEntryID:   e.ReversedEntryID,
	}
}

func toEntryResponses(rows []ledger.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(rows))
	for _, e := range rows {
		out = append(out, toEntryResponse(e))
	}
	return out
}

// Accounts

type postAccountRequest struct {
	Code           string             `json:"code" validate:"required,max=32"`
	Name           string             `json:"name" validate:"required,max=200"`
	Type           ledger.AccountType `json:"account_type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	NormalBalance  string             `json:"normal_balance" validate:"omitempty,oneof=DEBIT CREDIT"`
	ParentID       *int64             `json:"parent_id,omitempty" validate:"omitempty,gt=0"`
	OpeningBalance *decimal.Decimal   `json:"opening_balance,omitempty"`
}

type patchAccountRequest struct {
	Name        *string             `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Code        *string             `json:"code,omitempty"`
	Type        *ledger.AccountType `json:"account_type,omitempty"`
	ParentID    *int64              `json:"parent_id,omitempty" validate:"omitempty,gt=0"`
	ClearParent bool                `json:"clear_parent"`
	Active      *bool               `json:"is_active,omitempty"`
}

func (p patchAccountRequest) toInput() account.UpdateInput {
	return account.UpdateInput{Name: p.Name, Code: p.Code, Type: p.Type, ParentID: p.ParentID, ClearParent: p.ClearParent, Active: p.Active}
}

type accountResponse struct {
	ID             int64                `json:"id"`
	Code           string               `json:"code"`
	Name           string               `json:"name"`
	Type           ledger.AccountType   `json:"account_type"`
	NormalBalance  ledger.NormalBalance `json:"normal_balance"`
	ParentID       *int64               `json:"parent_id,omitempty"`
	OpeningBalance decimal.Decimal      `json:"opening_balance"`
	CurrentBalance decimal.Decimal      `json:"current_balance"`
	System         bool                 `json:"is_system_account"`
	Active         bool                 `json:"is_active"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Code:           a.Code,
		Name:           a.Name,
		Type:           a.Type,
		NormalBalance:  a.NormalBalance,
		ParentID:       a.ParentID,
		OpeningBalance: a.OpeningBalance,
		CurrentBalance: a.CurrentBalance,
		System:         a.System,
		Active:         a.Active,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type trialBalanceLine struct {
	AccountID int64              `json:"account_id"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	Type      ledger.AccountType `json:"account_type"`
	Debit     decimal.Decimal    `json:"debit"`
	Credit    decimal.Decimal    `json:"credit"`
}

type trialBalanceResponse struct {
	Lines       []trialBalanceLine `json:"lines"`
	TotalDebit  decimal.Decimal    `json:"total_debit"`
	TotalCredit decimal.Decimal    `json:"total_credit"`
	Balanced    bool               `json:"balanced"`
}

func toTrialBalanceResponse(tb account.TrialBalance) trialBalanceResponse {
	out := trialBalanceResponse{Lines: make([]trialBalanceLine, 0, len(tb.Lines)), TotalDebit: tb.TotalDebit, TotalCredit: tb.TotalCredit, Balanced: tb.Balanced()}
	for _, l := range tb.Lines {
		out.Lines = append(out.Lines, trialBalanceLine(l))
	}
	return out
}

// Balances

type recalcResponse struct {
	UpdatedAccounts int `json:"updated_accounts"`
	UpdatedEntries  int `json:"updated_entries"`
}

type accountDrift struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Stored    decimal.Decimal `json:"stored"`
	Computed  decimal.Decimal `json:"computed"`
}

type entryDrift struct {
	EntryID   int64           `json:"ledger_id"`
	AccountID int64           `json:"account_id"`
	Stored    decimal.Decimal `json:"stored"`
	Computed  decimal.Decimal `json:"computed"`
}

type driftResponse struct {
	Clean    bool           `json:"clean"`
	Accounts []accountDrift `json:"accounts"`
	Entries  []entryDrift   `json:"entries"`
}

func toDriftResponse(r balance.Report) driftResponse {
	out := driftResponse{Clean: r.Clean(), Accounts: make([]accountDrift, 0, len(r.Accounts)), Entries: make([]entryDrift, 0, len(r.Entries))}
	for _, d := range r.Accounts {
		out.Accounts = append(out.Accounts, accountDrift(d))
	}
	for _, d := range r.Entries {
		out.Entries = append(out.Entries, entryDrift(d))
	}
	return out
}

// Reconciliations

type postReconciliationRequest struct {
	AccountID        int64           `json:"account_id" validate:"required,gt=0"`
	StatementDate    string          `json:"statement_date" validate:"required,datetime=2006-01-02"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	Reference        string          `json:"reference" validate:"max=64"`
}

type postMatchRequest struct {
	EntryID         int64            `json:"ledger_id" validate:"required,gt=0"`
	StatementAmount decimal.Decimal  `json:"statement_amount"`
	StatementDate   string           `json:"statement_date" validate:"required,datetime=2006-01-02"`
	MatchType       ledger.MatchType `json:"match_type" validate:"omitempty,oneof=EXACT PARTIAL MANUAL"`
}

type statementLineDTO struct {
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Reference string          `json:"reference" validate:"max=64"`
}

type autoMatchRequest struct {
	Lines []statementLineDTO `json:"lines" validate:"required,min=1,dive"`
}

type reconciliationResponse struct {
	ID               int64                       `json:"id"`
	AccountID        int64                       `json:"account_id"`
	StatementDate    string                      `json:"statement_date"`
	StatementBalance decimal.Decimal             `json:"statement_balance"`
	Reference        string                      `json:"reference"`
	Status           ledger.ReconciliationStatus `json:"status"`
	CreatedBy        string                      `json:"created_by"`
	CreatedAt        time.Time                   `json:"created_at"`
	FinalizedAt      *time.Time                  `json:"finalized_at,omitempty"`
}

func toReconciliationResponse(r ledger.Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		ID:               r.ID,
		AccountID:        r.AccountID,
		StatementDate:    r.StatementDate.Format(dateLayout),
		StatementBalance: r.StatementBalance,
		Reference:        r.Ref(),
		Status:           r.Status,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
		FinalizedAt:      r.FinalizedAt,
	}
}

type matchResponse struct {
	ID              int64            `json:"id"`
	EntryID         int64            `json:"ledger_id"`
	StatementAmount decimal.Decimal  `json:"statement_amount"`
	StatementDate   string           `json:"statement_date"`
	MatchType       ledger.MatchType `json:"match_type"`
}

func toMatchResponse(it ledger.ReconciliationItem) matchResponse {
	return matchResponse{
		ID:              it.ID,
		EntryID:         it.EntryID,
		StatementAmount: it.StatementAmount,
		StatementDate:   it.StatementDate.Format(dateLayout),
		MatchType:       it.MatchType,
	}
}

type autoMatchResponse struct {
	Matched   []matchResponse    `json:"matched"`
	Unmatched []statementLineDTO `json:"unmatched"`
}

func toAutoMatchResponse(res reconcile.AutoMatchResult) autoMatchResponse {
	out := autoMatchResponse{Matched: make([]matchResponse, 0, len(res.Matched)), Unmatched: make([]statementLineDTO, 0, len(res.Unmatched))}
	for _, it := range res.Matched {
		out.Matched = append(out.Matched, toMatchResponse(it))
	}
	for _, l := range res.Unmatched {
		out.Unmatched = append(out.Unmatched, statementLineDTO{Amount: l.Amount, Date: l.Date.Format(dateLayout), Reference: l.Reference})
	}
	return out
}

type finalizeResponse struct {
	Reconciliation   reconciliationResponse `json:"reconciliation"`
	MatchedCount     int                    `json:"matched_count"`
	BookBalance      decimal.Decimal        `json:"book_balance"`
	StatementBalance decimal.Decimal        `json:"statement_balance"`
	Difference       decimal.Decimal        `json:"difference"`
}

// Audit

type auditResponse struct {
	ID         string             `json:"id"`
	EntityType string             `json:"entity_type"`
	EntityID   int64              `json:"entity_id"`
	Action     ledger.AuditAction `json:"action"`
	OldValue   any                `json:"old_value,omitempty"`
	NewValue   any                `json:"new_value,omitempty"`
	Username   string             `json:"username"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toAuditResponse(e ledger.AuditEntry) auditResponse {
	out := auditResponse{
		ID:         e.ID.String(),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Username:   e.Username,
		CreatedAt:  e.CreatedAt,
	}
	if len(e.OldValue) > 0 {
		out.OldValue = e.OldValue
	}
	if len(e.NewValue) > 0 {
		out.NewValue = e.NewValue
	}
	return out
}

// parseDate reads a validated YYYY-MM-DD value.
func parseDate(raw, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, errs.WithFields(errs.ErrInvalid, map[string]string{field: fmt.Sprintf("expected %s", dateLayout)})
	}
	return t, nil
}
