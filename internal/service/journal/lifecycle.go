package journal

import (
	"context"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/period"
	"github.com/tinoosan/bizledger/internal/service/voucher"
)

// PostDraft moves a DRAFT voucher to POSTED through the same validation,
// period gate and entry writes as Post.
func (s *service) PostDraft(ctx context.Context, tenantID, voucherID int64, actor string) (ledger.Voucher, error) {
	var out ledger.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := lockVoucher(ctx, tx, tenantID, voucherID)
		if err != nil {
			return err
		}
		if v.Posted {
			return errs.Wrap(errs.ErrAlreadyPosted, "voucher %s is already posted", v.Number)
		}
		lines := make([]voucher.Line, 0, len(v.Lines))
		for _, ln := range v.Lines {
			lines = append(lines, voucher.Line{AccountID: ln.AccountID, Debit: ln.Debit, Credit: ln.Credit, Description: ln.Description})
		}
		if _, err := s.validator.Validate(ctx, tx.Accounts(), voucher.Header{
			TenantID:     v.TenantID,
			Type:         v.Type,
			Date:         v.Date,
			BaseCurrency: v.BaseCurrency,
			ExchangeRate: v.ExchangeRate,
			Metadata:     v.Metadata,
		}, lines); err != nil {
			return err
		}
		if _, err := period.AssertOpen(ctx, tx.Periods(), tenantID, v.Date); err != nil {
			return err
		}
		before := v
		now := s.now().UTC()
		v.Posted = true
		v.PostedAt = &now
		if v, err = tx.Vouchers().UpdateVoucher(ctx, v); err != nil {
			return err
		}
		if _, err := s.writeEntries(ctx, tx, v); err != nil {
			return err
		}
		out = v
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityVoucher,
			EntityID:   v.ID,
			Action:     ledger.ActionPost,
			Old:        Snapshot(before),
			New:        Snapshot(v),
			Actor:      actor,
		})
	})
	if err != nil {
		s.failed("post_draft", tenantID, voucherID, err)
		return ledger.Voucher{}, err
	}
	s.metrics.IncPosted("post_draft")
	s.log.Info("voucher posted", "tenant_id", tenantID, "voucher_id", out.ID, "voucher_number", out.Number, "actor", actor)
	return out, nil
}

// Delete soft-deletes a voucher that was never posted, or has been unposted.
func (s *service) Delete(ctx context.Context, tenantID, voucherID int64, actor string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := lockVoucher(ctx, tx, tenantID, voucherID)
		if err != nil {
			return err
		}
		if v.Posted {
			return errs.Wrap(errs.ErrPostedImmutable, "voucher %s is posted; reverse it instead", v.Number)
		}
		before := v
		v.Deleted = true
		if _, err := tx.Vouchers().UpdateVoucher(ctx, v); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityVoucher,
			EntityID:   v.ID,
			Action:     ledger.ActionDelete,
			Old:        Snapshot(before),
			Actor:      actor,
		})
	})
	if err != nil {
		s.failed("delete", tenantID, voucherID, err)
		return err
	}
	s.log.Info("voucher deleted", "tenant_id", tenantID, "voucher_id", voucherID, "actor", actor)
	return nil
}

// Unpost returns a POSTED voucher to DRAFT by soft-deleting its entries and
// shifting the running balances of later rows back. Vouchers that are part of
// a reversal pair, or that have reconciled entries, cannot be unposted.
func (s *service) Unpost(ctx context.Context, tenantID, voucherID int64, actor string) (ledger.Voucher, error) {
	if !s.allowUnpost {
		return ledger.Voucher{}, errs.ErrUnpostDisabled
	}
	var out ledger.Voucher
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		v, err := lockVoucher(ctx, tx, tenantID, voucherID)
		if err != nil {
			return err
		}
		if !v.Posted {
			return errs.Wrap(errs.ErrNotPosted, "voucher %s is not posted", v.Number)
		}
		if v.ReversalVoucherID != nil || v.ReversedVoucherID != nil {
			return errs.Wrap(errs.ErrReversalLinked, "voucher %s is part of a reversal pair", v.Number)
		}
		if _, err := period.AssertOpen(ctx, tx.Periods(), tenantID, v.Date); err != nil {
			return err
		}
		entries, err := tx.Entries().VoucherEntries(ctx, tenantID, v.ID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.AccountID)
		}
		locked, err := account.LockInOrder(ctx, tx.Accounts(), tenantID, ids)
		if err != nil {
			return err
		}
		// Reconciliation state is only stable once the accounts are locked.
		if entries, err = tx.Entries().VoucherEntries(ctx, tenantID, v.ID); err != nil {
			return err
		}
		for _, e := range entries {
			if e.Reconciled {
				return errs.Wrap(errs.ErrReconciled, "entry %d of voucher %s is reconciled (%s)", e.ID, v.Number, e.ReconciliationRef)
			}
		}
		for _, e := range entries {
			a := locked[e.AccountID]
			if err := tx.Entries().DeleteEntry(ctx, tenantID, e.ID); err != nil {
				return err
			}
			if _, _, err := s.shiftLater(ctx, tx, a, e.TransactionDate, e.ID, a.Delta(e.Debit, e.Credit).Neg()); err != nil {
				return err
			}
		}
		for _, id := range account.SortedUnique(ids) {
			if _, err := account.RefreshBalance(ctx, tx, locked[id]); err != nil {
				return err
			}
		}
		before := v
		v.Posted = false
		v.PostedAt = nil
		if out, err = tx.Vouchers().UpdateVoucher(ctx, v); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityVoucher,
			EntityID:   v.ID,
			Action:     ledger.ActionUnpost,
			Old:        Snapshot(before),
			New:        Snapshot(out),
			Actor:      actor,
		})
	})
	if err != nil {
		s.failed("unpost", tenantID, voucherID, err)
		return ledger.Voucher{}, err
	}
	s.metrics.IncPosted("unpost")
	s.log.Info("voucher unposted", "tenant_id", tenantID, "voucher_id", out.ID, "voucher_number", out.Number, "actor", actor)
	return out, nil
}
