package journal

import (
	"context"

	"github.com/tinoosan/bizledger/internal/dictionary"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/voucher"
)

// Reverse posts a REV voucher dated today that mirrors every entry of the
// original with debit and credit swapped, then links the pair. The original
// and its entries are otherwise left untouched. A second reversal of the same
// voucher fails with errs.ErrAlreadyReversed.
func (s *service) Reverse(ctx context.Context, tenantID, voucherID int64, actor string) (ledger.Voucher, error) {
	var out ledger.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		orig, err := lockVoucher(ctx, tx, tenantID, voucherID)
		if err != nil {
			return err
		}
		if !orig.Posted {
			return errs.Wrap(errs.ErrNotPosted, "voucher %s is not posted", orig.Number)
		}
		if orig.ReversalVoucherID != nil {
			return errs.Wrap(errs.ErrAlreadyReversed, "voucher %s was already reversed by voucher %d", orig.Number, *orig.ReversalVoucherID)
		}
		entries, err := tx.Entries().VoucherEntries(ctx, tenantID, orig.ID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errs.Wrap(errs.ErrNoEntries, "voucher %s has no ledger entries", orig.Number)
		}

		lines := make([]voucher.Line, 0, len(entries))
		for _, e := range entries {
			desc := "Reversal"
			if e.Description != "" {
				desc = "Reversal: " + e.Description
			}
			lines = append(lines, voucher.Line{
				AccountID:       e.AccountID,
				Debit:           e.Credit,
				Credit:          e.Debit,
				Description:     desc,
				ReversesEntryID: &e.ID,
			})
		}
		origID := orig.ID
		refID := orig.ID
		rev, err := s.postInTx(ctx, tx, PostInput{
			TenantID:        tenantID,
			Type:            dictionary.VoucherReversal,
			Date:            s.now(),
			BaseCurrency:    orig.BaseCurrency,
			ExchangeRate:    orig.ExchangeRate,
			Narration:       "Reversal of " + orig.Number,
			ReferenceType:   "voucher",
			ReferenceID:     &refID,
			ReferenceNumber: orig.Number,
			Metadata:        orig.Metadata.With("reversal_of", orig.Number),
			Lines:           lines,
			Actor:           actor,
			reversalOf:      &origID,
		}, true)
		if err != nil {
			return err
		}

		before := orig
		orig.ReversalVoucherID = &rev.ID
		if _, err := tx.Vouchers().UpdateVoucher(ctx, orig); err != nil {
			return err
		}

		touched := make([]int64, 0, len(entries))
		for _, e := range entries {
			touched = append(touched, e.AccountID)
		}
		// Locks are already held from the mirror posting; this re-derives the
		// cached balances from the ledger.
		locked, err := tx.Accounts().AccountsByIDs(ctx, tenantID, account.SortedUnique(touched))
		if err != nil {
			return err
		}
		for _, a := range locked {
			if _, err := account.RefreshBalance(ctx, tx, a); err != nil {
				return err
			}
		}

		out = rev
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityVoucher,
			EntityID:   orig.ID,
			Action:     ledger.ActionReverse,
			Old:        Snapshot(before),
			New: map[string]any{
				"reversal_voucher_id":     rev.ID,
				"reversal_voucher_number": rev.Number,
			},
			Actor: actor,
		})
	})
	if err != nil {
		s.failed("reverse", tenantID, voucherID, err)
		return ledger.Voucher{}, err
	}
	s.metrics.IncPosted("reverse")
	s.log.Info("voucher reversed",
		"tenant_id", tenantID,
		"voucher_id", voucherID,
		"reversal_voucher_id", out.ID,
		"reversal_voucher_number", out.Number,
		"actor", actor,
	)
	return out, nil
}
