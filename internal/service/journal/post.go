package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/dictionary"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/period"
	"github.com/tinoosan/bizledger/internal/service/voucher"
)

const maxNumberAttempts = 5

func (s *service) normalize(in PostInput) PostInput {
	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	if in.Type == "" {
		in.Type = dictionary.VoucherJournal
	}
	in.BaseCurrency = strings.ToUpper(strings.TrimSpace(in.BaseCurrency))
	if in.BaseCurrency == "" {
		in.BaseCurrency = s.baseCurrency
	}
	if in.ExchangeRate.IsZero() {
		in.ExchangeRate = decimal.NewFromInt(1)
	}
	if !in.Date.IsZero() {
		in.Date = ledger.DateOf(in.Date)
	}
	in.Number = strings.TrimSpace(in.Number)
	in.Narration = strings.TrimSpace(in.Narration)
	return in
}

// postInTx validates and stores a voucher and, unless it is a draft, writes
// its ledger entries. engine permits engine-only voucher types.
func (s *service) postInTx(ctx context.Context, tx ledger.Tx, in PostInput, engine bool) (ledger.Voucher, error) {
	if in.TenantID <= 0 {
		return ledger.Voucher{}, errs.WithFields(errs.ErrInvalid, map[string]string{"tenant_id": "required"})
	}
	in = s.normalize(in)
	if vt, ok := dictionary.LookupVoucherType(in.Type); ok && vt.EngineOnly && !engine {
		return ledger.Voucher{}, errs.WithFields(errs.ErrInvalid, map[string]string{"voucher_type": vt.Code + " vouchers are created by the engine"})
	}
	res, err := s.validator.Validate(ctx, tx.Accounts(), voucher.Header{
		TenantID:     in.TenantID,
		Type:         in.Type,
		Date:         in.Date,
		BaseCurrency: in.BaseCurrency,
		ExchangeRate: in.ExchangeRate,
		Metadata:     in.Metadata,
	}, in.Lines)
	if err != nil {
		return ledger.Voucher{}, err
	}
	if !in.Draft {
		if _, err := period.AssertOpen(ctx, tx.Periods(), in.TenantID, in.Date); err != nil {
			return ledger.Voucher{}, err
		}
	}
	number, err := s.assignNumber(ctx, tx, in.TenantID, res.Type, in.Date, in.Number)
	if err != nil {
		return ledger.Voucher{}, err
	}

	now := s.now().UTC()
	v := ledger.Voucher{
		TenantID:          in.TenantID,
		Number:            number,
		Type:              res.Type,
		Date:              in.Date,
		BaseCurrency:      res.BaseCurrency,
		ExchangeRate:      in.ExchangeRate,
		TotalDebit:        res.TotalDebit,
		TotalCredit:       res.TotalCredit,
		Narration:         in.Narration,
		ReferenceType:     strings.TrimSpace(in.ReferenceType),
		ReferenceID:       in.ReferenceID,
		ReferenceNumber:   strings.TrimSpace(in.ReferenceNumber),
		Metadata:          in.Metadata.Clone(),
		Posted:            !in.Draft,
		ReversedVoucherID: in.reversalOf,
		CreatedBy:         in.Actor,
		CreatedAt:         now,
		Lines:             res.Lines,
	}
	if v.Posted {
		v.PostedAt = &now
	}
	v, err = tx.Vouchers().CreateVoucher(ctx, v)
	if err != nil {
		return ledger.Voucher{}, err
	}
	if v.Posted {
		if _, err := s.writeEntries(ctx, tx, v); err != nil {
			return ledger.Voucher{}, err
		}
	}
	err = s.audit.Log(ctx, tx.Audit(), audit.Record{
		TenantID:   v.TenantID,
		EntityType: audit.EntityVoucher,
		EntityID:   v.ID,
		Action:     ledger.ActionCreate,
		New:        Snapshot(v),
		Actor:      in.Actor,
	})
	if err != nil {
		return ledger.Voucher{}, err
	}
	return v, nil
}

func (s *service) assignNumber(ctx context.Context, tx ledger.Tx, tenantID int64, voucherType string, date time.Time, requested string) (string, error) {
	if requested != "" {
		exists, err := tx.Vouchers().VoucherNumberExists(ctx, tenantID, requested)
		if err != nil {
			return "", err
		}
		if exists {
			return "", errs.Wrap(errs.ErrDuplicateNumber, "voucher number %s already in use", requested)
		}
		return requested, nil
	}
	for range maxNumberAttempts {
		seq, err := tx.Vouchers().NextVoucherSequence(ctx, tenantID, voucherType, date.Year())
		if err != nil {
			return "", err
		}
		number := fmt.Sprintf("%s-%04d-%06d", voucherType, date.Year(), seq)
		exists, err := tx.Vouchers().VoucherNumberExists(ctx, tenantID, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not allocate a %s voucher number after %d attempts", voucherType, maxNumberAttempts)
}

// writeEntries creates one ledger entry per voucher line in line order. Each
// entry's balance is the account's balance as of the voucher date: opening
// balance plus every row dated on or before it, which all precede the new row
// in (date, id) order. Rows dated later are shifted by the entry's delta.
func (s *service) writeEntries(ctx context.Context, tx ledger.Tx, v ledger.Voucher) ([]ledger.Entry, error) {
	ids := make([]int64, 0, len(v.Lines))
	for _, ln := range v.Lines {
		ids = append(ids, ln.AccountID)
	}
	start := time.Now()
	locked, err := account.LockInOrder(ctx, tx.Accounts(), v.TenantID, ids)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, err
	}
	for _, id := range account.SortedUnique(ids) {
		if !locked[id].Postable() {
			return nil, errs.Wrap(errs.ErrAccountUnavailable, "account %d not found or inactive", id)
		}
	}

	lines := make([]ledger.VoucherLine, len(v.Lines))
	copy(lines, v.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].LineNo < lines[j].LineNo })

	now := s.now().UTC()
	entries := make([]ledger.Entry, 0, len(lines))
	for _, ln := range lines {
		a := locked[ln.AccountID]
		debit, credit, err := tx.Entries().SumThrough(ctx, v.TenantID, a.ID, v.Date)
		if err != nil {
			return nil, err
		}
		delta := a.Delta(ln.Debit, ln.Credit)
		balance := a.OpeningBalance.Add(a.Delta(debit, credit)).Add(delta)
		desc := ln.Description
		if desc == "" {
			desc = v.Narration
		}
		e, err := tx.Entries().InsertEntry(ctx, ledger.Entry{
			TenantID:        v.TenantID,
			AccountID:       a.ID,
			VoucherID:       v.ID,
			VoucherLineID:   ln.ID,
			TransactionDate: v.Date,
			Debit:           ln.Debit,
			Credit:          ln.Credit,
			Balance:         balance,
			Description:     desc,
			ReversedEntryID: ln.ReversesEntryID,
			CreatedAt:       now,
		})
		if err != nil {
			return nil, err
		}
		current, shifted, err := s.shiftLater(ctx, tx, a, e.TransactionDate, e.ID, delta)
		if err != nil {
			return nil, err
		}
		if shifted == 0 {
			current = balance
		}
		if err := tx.Accounts().SetCurrentBalance(ctx, v.TenantID, a.ID, current); err != nil {
			return nil, err
		}
		a.CurrentBalance = current
		locked[a.ID] = a
		entries = append(entries, e)
	}
	return entries, nil
}

// shiftLater adds delta to the balance of every row of a after (date, id) and
// returns the last row's new balance and how many rows moved. The caller must
// hold a's lock.
func (s *service) shiftLater(ctx context.Context, tx ledger.Tx, a ledger.Account, date time.Time, id int64, delta decimal.Decimal) (decimal.Decimal, int, error) {
	later, err := tx.Entries().EntriesAfter(ctx, a.TenantID, a.ID, date, id)
	if err != nil {
		return decimal.Zero, 0, err
	}
	last := decimal.Zero
	for _, e := range later {
		last = e.Balance.Add(delta)
		if err := tx.Entries().UpdateEntryBalance(ctx, a.TenantID, e.ID, last); err != nil {
			return decimal.Zero, 0, err
		}
	}
	s.metrics.AddResequenced(len(later))
	return last, len(later), nil
}

// lockVoucher loads a live voucher for a state change.
func lockVoucher(ctx context.Context, tx ledger.Tx, tenantID, voucherID int64) (ledger.Voucher, error) {
	v, err := tx.Vouchers().LockVoucher(ctx, tenantID, voucherID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ledger.Voucher{}, errs.Wrap(errs.ErrNotFound, "voucher %d not found", voucherID)
		}
		return ledger.Voucher{}, err
	}
	if v.Deleted {
		return ledger.Voucher{}, errs.Wrap(errs.ErrNotFound, "voucher %d not found", voucherID)
	}
	return v, nil
}
