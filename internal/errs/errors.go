package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding whether to retry, fix input
// or escalate.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindPeriod      Kind = "period"
	KindNotFound    Kind = "not_found"
	KindState       Kind = "state"
	KindConcurrency Kind = "concurrency"
	KindIntegrity   Kind = "integrity"
)

// Error is the typed error returned across layers. Code is a stable,
// machine-readable identifier; Message is human-readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields carries per-field validation messages, keyed by request field.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func sentinel(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation failures: the request itself is wrong.
var (
	ErrInvalid             = sentinel(KindValidation, "invalid", "invalid request")
	ErrTooFewLines         = sentinel(KindValidation, "too_few_lines", "a voucher needs at least two non-zero lines")
	ErrUnbalanced          = sentinel(KindValidation, "unbalanced", "total debits must equal total credits")
	ErrInvalidAmount       = sentinel(KindValidation, "invalid_amount", "line amounts must be non-negative and one-sided")
	ErrAccountUnavailable  = sentinel(KindValidation, "account_unavailable", "account not found or inactive")
	ErrDuplicateNumber     = sentinel(KindValidation, "duplicate_voucher_number", "voucher number already in use")
	ErrInvalidExchangeRate = sentinel(KindValidation, "invalid_exchange_rate", "exchange rate must be greater than zero")
	ErrInvalidCode         = sentinel(KindValidation, "invalid_code", "account code must match [A-Z0-9_-]{2,32}")
	ErrDuplicateCode       = sentinel(KindValidation, "duplicate_code", "account code already exists")
	ErrImmutable           = sentinel(KindValidation, "immutable", "field cannot be changed")
	ErrParentCycle         = sentinel(KindValidation, "parent_cycle", "parent assignment would create a cycle")
	ErrWrongAccount        = sentinel(KindValidation, "wrong_account", "ledger entry belongs to a different account")
)

// Period failures: the transaction date is not postable.
var (
	ErrPeriodNotFound  = sentinel(KindPeriod, "period_not_found", "no active fiscal period covers the date")
	ErrPeriodClosed    = sentinel(KindPeriod, "period_closed", "fiscal period is closed")
	ErrPeriodAmbiguous = sentinel(KindPeriod, "period_ambiguous", "more than one open fiscal period covers the date")
)

var ErrNotFound = sentinel(KindNotFound, "not_found", "not found")

// State failures: the target exists but is in the wrong lifecycle state.
var (
	ErrNotPosted       = sentinel(KindState, "not_posted", "voucher is not posted")
	ErrAlreadyPosted   = sentinel(KindState, "already_posted", "voucher is already posted")
	ErrAlreadyReversed = sentinel(KindState, "already_reversed", "voucher has already been reversed")
	ErrPostedImmutable = sentinel(KindState, "posted_immutable", "posted vouchers cannot be edited or deleted")
	ErrNoEntries       = sentinel(KindState, "no_entries", "voucher has no ledger entries")
	ErrReconciled      = sentinel(KindState, "reconciled", "ledger entries are reconciled")
	ErrFinalized       = sentinel(KindState, "reconciliation_finalized", "reconciliation is finalized")
	ErrAlreadyMatched  = sentinel(KindState, "already_matched", "ledger entry already matched in this reconciliation")
	ErrUnpostDisabled  = sentinel(KindState, "unpost_disabled", "unposting is disabled")
	ErrReversalLinked  = sentinel(KindState, "reversal_linked", "voucher is linked to a reversal")
	ErrSystemAccount   = sentinel(KindState, "system_account", "system accounts cannot be modified")
	ErrHasChildren     = sentinel(KindState, "has_children", "account has child accounts")
	ErrHasEntries      = sentinel(KindState, "has_entries", "account has ledger entries")
	ErrInFlight        = sentinel(KindState, "request_in_flight", "a request with this idempotency key is in progress")
)

var ErrAccountLocked = sentinel(KindConcurrency, "account_locked", "account is locked by another posting")

var ErrBalanceDrift = sentinel(KindIntegrity, "balance_drift", "stored balances disagree with the ledger")

// Wrap returns a copy of base with a more specific message. errors.Is(err, base)
// still reports true.
func Wrap(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...), Err: base}
}

// WithFields attaches per-field messages to a validation error.
func WithFields(base *Error, fields map[string]string) *Error {
	msg := base.Message
	if len(fields) == 1 {
		for k, v := range fields {
			msg = k + ": " + v
		}
	}
	return &Error{Kind: base.Kind, Code: base.Code, Message: msg, Fields: fields, Err: base}
}

// Cause wraps an underlying error (driver, IO) under a typed sentinel.
func Cause(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: errors.Join(base, err)}
}

// As extracts the typed error from a chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Retryable reports whether resubmitting the same request may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindConcurrency
}
