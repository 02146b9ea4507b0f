// Package voucher holds the structural checks a voucher must pass before any
// write: line shape, debit/credit balance, currency precision and account
// availability. Validation performs no writes.
package voucher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/govalues/money"
	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/dictionary"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/meta"
	"github.com/tinoosan/bizledger/internal/service/account"
)

// DefaultTolerance is the largest accepted gap between total debits and credits.
var DefaultTolerance = decimal.New(1, -2)

// Header is the proposed voucher header.
type Header struct {
	TenantID     int64
	Type         string
	Date         time.Time
	BaseCurrency string
	ExchangeRate decimal.Decimal
	Metadata     meta.Metadata
}

// Line is one proposed movement. Lines with both amounts zero are dropped.
type Line struct {
	AccountID       int64
	Debit           decimal.Decimal
	Credit          decimal.Decimal
	Description     string
	ReversesEntryID *int64
}

// Result is the validated voucher body: the non-zero lines numbered from 1 in
// input order, their totals and the resolved accounts.
type Result struct {
	Type         string
	BaseCurrency string
	Lines        []ledger.VoucherLine
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	AccountIDs   []int64
	Accounts     map[int64]ledger.Account
}

// AccountLookup resolves accounts by id; ledger.AccountRepository satisfies it.
type AccountLookup interface {
	AccountsByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]ledger.Account, error)
}

type Validator struct {
	tolerance decimal.Decimal
}

func NewValidator(tolerance decimal.Decimal) Validator {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return Validator{tolerance: tolerance}
}

func (v Validator) Tolerance() decimal.Decimal { return v.tolerance }

func (v Validator) Validate(ctx context.Context, accounts AccountLookup, h Header, lines []Line) (Result, error) {
	vt, ok := dictionary.LookupVoucherType(h.Type)
	if !ok {
		return Result{}, errs.WithFields(errs.ErrInvalid, map[string]string{"voucher_type": fmt.Sprintf("unknown voucher type %q", h.Type)})
	}
	if h.Date.IsZero() {
		return Result{}, errs.WithFields(errs.ErrInvalid, map[string]string{"date": "required"})
	}
	cur, err := money.ParseCurr(strings.TrimSpace(h.BaseCurrency))
	if err != nil {
		return Result{}, errs.WithFields(errs.ErrInvalid, map[string]string{"base_currency": "not an ISO 4217 code"})
	}
	if !h.ExchangeRate.IsPositive() {
		return Result{}, errs.ErrInvalidExchangeRate
	}
	if err := h.Metadata.Validate(); err != nil {
		return Result{}, err
	}

	scale := int32(cur.Scale())
	res := Result{Type: vt.Code, BaseCurrency: cur.Code(), TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	ids := make([]int64, 0, len(lines))
	for i, ln := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		if ln.Debit.IsNegative() || ln.Credit.IsNegative() {
			return Result{}, errs.Wrap(errs.ErrInvalidAmount, "%s: amounts must not be negative", field)
		}
		if !ln.Debit.IsZero() && !ln.Credit.IsZero() {
			return Result{}, errs.Wrap(errs.ErrInvalidAmount, "%s: a line is either a debit or a credit", field)
		}
		if ln.Debit.IsZero() && ln.Credit.IsZero() {
			continue
		}
		if !ln.Debit.Equal(ln.Debit.Round(scale)) || !ln.Credit.Equal(ln.Credit.Round(scale)) {
			return Result{}, errs.Wrap(errs.ErrInvalidAmount, "%s: %s allows at most %d decimal places", field, cur.Code(), scale)
		}
		if ln.AccountID <= 0 {
			return Result{}, errs.Wrap(errs.ErrAccountUnavailable, "%s: account_id is required", field)
		}
		res.Lines = append(res.Lines, ledger.VoucherLine{
			LineNo:          len(res.Lines) + 1,
			AccountID:       ln.AccountID,
			Debit:           ln.Debit,
			Credit:          ln.Credit,
			Description:     strings.TrimSpace(ln.Description),
			ReversesEntryID: ln.ReversesEntryID,
		})
		res.TotalDebit = res.TotalDebit.Add(ln.Debit)
		res.TotalCredit = res.TotalCredit.Add(ln.Credit)
		ids = append(ids, ln.AccountID)
	}
	if len(res.Lines) < 2 {
		return Result{}, errs.Wrap(errs.ErrTooFewLines, "voucher has %d non-zero lines, at least 2 required", len(res.Lines))
	}
	if res.TotalDebit.Sub(res.TotalCredit).Abs().GreaterThan(v.tolerance) {
		return Result{}, errs.Wrap(errs.ErrUnbalanced, "total debit %s does not equal total credit %s",
			res.TotalDebit.StringFixed(scale), res.TotalCredit.StringFixed(scale))
	}

	res.AccountIDs = account.SortedUnique(ids)
	found, err := accounts.AccountsByIDs(ctx, h.TenantID, res.AccountIDs)
	if err != nil {
		return Result{}, fmt.Errorf("resolve accounts: %w", err)
	}
	for _, id := range res.AccountIDs {
		a, ok := found[id]
		if !ok || !a.Postable() {
			return Result{}, errs.Wrap(errs.ErrAccountUnavailable, "account %d not found or inactive", id)
		}
	}
	res.Accounts = found
	return res, nil
}
