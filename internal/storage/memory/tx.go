package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// tx buffers writes on top of the committed state. Reads see the
// transaction's own writes first, then committed rows.
type tx struct {
	s *Store

	accounts    map[int64]ledger.Account
	newAccounts map[int64]struct{}
	vouchers    map[int64]ledger.Voucher
	newVouchers map[int64]struct{}
	entries     map[int64]ledger.Entry
	newEntries  map[int64]struct{}
	// reconciled holds refs for committed entries marked in this tx. They are
	// applied field-wise at commit so concurrent balance updates survive.
	reconciled map[int64]string
	recs       map[int64]ledger.Reconciliation
	items      []ledger.ReconciliationItem
	audit      []ledger.AuditEntry

	held map[lockKey]chan struct{}
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		accounts:    map[int64]ledger.Account{},
		newAccounts: map[int64]struct{}{},
		vouchers:    map[int64]ledger.Voucher{},
		newVouchers: map[int64]struct{}{},
		entries:     map[int64]ledger.Entry{},
		newEntries:  map[int64]struct{}{},
		reconciled:  map[int64]string{},
		recs:        map[int64]ledger.Reconciliation{},
		held:        map[lockKey]chan struct{}{},
	}
}

func (t *tx) release() {
	for _, ch := range t.held {
		<-ch
	}
	t.held = map[lockKey]chan struct{}{}
}

func (t *tx) Accounts() ledger.AccountRepository               { return t }
func (t *tx) Vouchers() ledger.VoucherRepository               { return t }
func (t *tx) Entries() ledger.LedgerRepository                 { return t }
func (t *tx) Periods() ledger.PeriodRepository                 { return t }
func (t *tx) Audit() ledger.AuditRepository                    { return t }
func (t *tx) Reconciliations() ledger.ReconciliationRepository { return t }

func notFound(what string, id int64) error {
	return errs.Wrap(errs.ErrNotFound, "%s %d not found", what, id)
}

// --- accounts ---

func (t *tx) account(tenantID, id int64) (ledger.Account, bool) {
	a, ok := t.accounts[id]
	if !ok {
		t.s.mu.RLock()
		a, ok = t.s.accounts[id]
		t.s.mu.RUnlock()
	}
	if !ok || a.TenantID != tenantID {
		return ledger.Account{}, false
	}
	return a, true
}

func (t *tx) allAccounts(tenantID int64) []ledger.Account {
	t.s.mu.RLock()
	out := make([]ledger.Account, 0, len(t.s.accounts))
	for id, a := range t.s.accounts {
		if a.TenantID != tenantID {
			continue
		}
		if dirty, ok := t.accounts[id]; ok {
			a = dirty
		}
		out = append(out, a)
	}
	t.s.mu.RUnlock()
	for id := range t.newAccounts {
		if a := t.accounts[id]; a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (t *tx) GetAccount(_ context.Context, tenantID, id int64) (ledger.Account, error) {
	a, ok := t.account(tenantID, id)
	if !ok {
		return ledger.Account{}, notFound("account", id)
	}
	return a, nil
}

func (t *tx) GetAccountByCode(_ context.Context, tenantID int64, code string) (ledger.Account, error) {
	for _, a := range t.allAccounts(tenantID) {
		if a.Code == code {
			return a, nil
		}
	}
	return ledger.Account{}, errs.Wrap(errs.ErrNotFound, "account %s not found", code)
}

func (t *tx) LockAccount(ctx context.Context, tenantID, id int64) (ledger.Account, error) {
	if _, ok := t.account(tenantID, id); !ok {
		return ledger.Account{}, notFound("account", id)
	}
	if err := t.s.lock(ctx, t, lockKey{table: "account", id: id}); err != nil {
		return ledger.Account{}, err
	}
	a, _ := t.account(tenantID, id)
	return a, nil
}

func (t *tx) AccountsByIDs(_ context.Context, tenantID int64, ids []int64) (map[int64]ledger.Account, error) {
	out := make(map[int64]ledger.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.account(tenantID, id); ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *tx) ListAccounts(_ context.Context, tenantID int64) ([]ledger.Account, error) {
	return t.allAccounts(tenantID), nil
}

func (t *tx) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	a.ID = t.s.id()
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	t.accounts[a.ID] = a
	t.newAccounts[a.ID] = struct{}{}
	return a, nil
}

func (t *tx) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	if _, ok := t.account(a.TenantID, a.ID); !ok {
		return ledger.Account{}, notFound("account", a.ID)
	}
	a.UpdatedAt = time.Now().UTC()
	t.accounts[a.ID] = a
	return a, nil
}

func (t *tx) SetCurrentBalance(_ context.Context, tenantID, id int64, balance decimal.Decimal) error {
	a, ok := t.account(tenantID, id)
	if !ok {
		return notFound("account", id)
	}
	a.CurrentBalance = balance
	a.UpdatedAt = time.Now().UTC()
	t.accounts[id] = a
	return nil
}

func (t *tx) CountChildren(_ context.Context, tenantID, id int64) (int, error) {
	n := 0
	for _, a := range t.allAccounts(tenantID) {
		if a.ParentID != nil && *a.ParentID == id && !a.Deleted {
			n++
		}
	}
	return n, nil
}

// --- vouchers ---

func cloneVoucher(v ledger.Voucher) ledger.Voucher {
	lines := make([]ledger.VoucherLine, len(v.Lines))
	copy(lines, v.Lines)
	v.Lines = lines
	if v.Metadata != nil {
		v.Metadata = v.Metadata.Clone()
	}
	return v
}

func (t *tx) voucher(tenantID, id int64) (ledger.Voucher, bool) {
	v, ok := t.vouchers[id]
	if !ok {
		t.s.mu.RLock()
		v, ok = t.s.vouchers[id]
		t.s.mu.RUnlock()
	}
	if !ok || v.TenantID != tenantID {
		return ledger.Voucher{}, false
	}
	return cloneVoucher(v), true
}

func (t *tx) CreateVoucher(_ context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	v = cloneVoucher(v)
	v.ID = t.s.id()
	for i := range v.Lines {
		v.Lines[i].ID = t.s.id()
		v.Lines[i].VoucherID = v.ID
	}
	t.vouchers[v.ID] = v
	t.newVouchers[v.ID] = struct{}{}
	return cloneVoucher(v), nil
}

func (t *tx) GetVoucher(_ context.Context, tenantID, id int64) (ledger.Voucher, error) {
	v, ok := t.voucher(tenantID, id)
	if !ok {
		return ledger.Voucher{}, notFound("voucher", id)
	}
	return v, nil
}

func (t *tx) LockVoucher(ctx context.Context, tenantID, id int64) (ledger.Voucher, error) {
	if _, ok := t.voucher(tenantID, id); !ok {
		return ledger.Voucher{}, notFound("voucher", id)
	}
	if err := t.s.lock(ctx, t, lockKey{table: "voucher", id: id}); err != nil {
		return ledger.Voucher{}, err
	}
	v, _ := t.voucher(tenantID, id)
	return v, nil
}

// UpdateVoucher writes header fields; the stored lines are kept.
func (t *tx) UpdateVoucher(_ context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	cur, ok := t.voucher(v.TenantID, v.ID)
	if !ok {
		return ledger.Voucher{}, notFound("voucher", v.ID)
	}
	v = cloneVoucher(v)
	v.Lines = cur.Lines
	t.vouchers[v.ID] = v
	return cloneVoucher(v), nil
}

func (t *tx) VoucherNumberExists(_ context.Context, tenantID int64, number string) (bool, error) {
	for _, v := range t.vouchers {
		if v.TenantID == tenantID && v.Number == number {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, v := range t.s.vouchers {
		if v.TenantID == tenantID && v.Number == number {
			return true, nil
		}
	}
	return false, nil
}

// NextVoucherSequence is not transactional: like a database sequence, numbers
// consumed by a rolled-back transaction are skipped.
func (t *tx) NextVoucherSequence(_ context.Context, tenantID int64, voucherType string, year int) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k := seqKey{tenantID: tenantID, typ: voucherType, year: year}
	t.s.sequences[k]++
	return t.s.sequences[k], nil
}

// --- ledger entries ---

func (t *tx) entry(tenantID, id int64) (ledger.Entry, bool) {
	e, ok := t.entries[id]
	if !ok {
		t.s.mu.RLock()
		e, ok = t.s.entries[id]
		t.s.mu.RUnlock()
		e = t.withReconciled(e)
	}
	if !ok || e.TenantID != tenantID {
		return ledger.Entry{}, false
	}
	return e, true
}

// accountEntries returns the account's live entries in (date, id) order.
func (t *tx) accountEntries(tenantID, accountID int64) []ledger.Entry {
	t.s.mu.RLock()
	keys := t.s.entryKeys[accountID]
	out := make([]ledger.Entry, 0, len(keys))
	for _, k := range keys {
		e := t.withReconciled(t.s.entries[k.ID])
		if dirty, ok := t.entries[k.ID]; ok {
			e = dirty
		}
		if e.TenantID == tenantID && !e.Deleted {
			out = append(out, e)
		}
	}
	t.s.mu.RUnlock()
	for id := range t.newEntries {
		e := t.entries[id]
		if e.AccountID == accountID && e.TenantID == tenantID && !e.Deleted {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j].TransactionDate, out[j].ID) })
	return out
}

func (t *tx) InsertEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	e.ID = t.s.id()
	e.TransactionDate = ledger.DateOf(e.TransactionDate)
	t.entries[e.ID] = e
	t.newEntries[e.ID] = struct{}{}
	return e, nil
}

func (t *tx) GetEntry(_ context.Context, tenantID, id int64) (ledger.Entry, error) {
	e, ok := t.entry(tenantID, id)
	if !ok || e.Deleted {
		return ledger.Entry{}, notFound("ledger entry", id)
	}
	return e, nil
}

func (t *tx) SumThrough(_ context.Context, tenantID, accountID int64, date time.Time) (decimal.Decimal, decimal.Decimal, error) {
	date = ledger.DateOf(date)
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range t.accountEntries(tenantID, accountID) {
		if e.TransactionDate.After(date) {
			break
		}
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit, nil
}

func (t *tx) Totals(_ context.Context, tenantID, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range t.accountEntries(tenantID, accountID) {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit, nil
}

func (t *tx) EntriesAfter(_ context.Context, tenantID, accountID int64, date time.Time, id int64) ([]ledger.Entry, error) {
	date = ledger.DateOf(date)
	var out []ledger.Entry
	for _, e := range t.accountEntries(tenantID, accountID) {
		if e.ID == id || e.Before(date, id) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) AccountEntries(_ context.Context, tenantID, accountID int64, f ledger.EntryFilter) ([]ledger.Entry, error) {
	all := t.accountEntries(tenantID, accountID)
	out := make([]ledger.Entry, 0, len(all))
	for _, e := range all {
		if !f.From.IsZero() && e.TransactionDate.Before(ledger.DateOf(f.From)) {
			continue
		}
		if !f.To.IsZero() && e.TransactionDate.After(ledger.DateOf(f.To)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) VoucherEntries(_ context.Context, tenantID, voucherID int64) ([]ledger.Entry, error) {
	t.s.mu.RLock()
	ids := append([]int64(nil), t.s.entriesByVouch[voucherID]...)
	t.s.mu.RUnlock()
	for id := range t.newEntries {
		if t.entries[id].VoucherID == voucherID {
			ids = append(ids, id)
		}
	}
	out := make([]ledger.Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := t.entry(tenantID, id); ok && !e.Deleted {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) UpdateEntryBalance(_ context.Context, tenantID, id int64, balance decimal.Decimal) error {
	e, ok := t.entry(tenantID, id)
	if !ok {
		return notFound("ledger entry", id)
	}
	e.Balance = balance
	t.entries[id] = e
	return nil
}

func (t *tx) DeleteEntry(_ context.Context, tenantID, id int64) error {
	e, ok := t.entry(tenantID, id)
	if !ok {
		return notFound("ledger entry", id)
	}
	e.Deleted = true
	t.entries[id] = e
	return nil
}

func (t *tx) withReconciled(e ledger.Entry) ledger.Entry {
	if ref, ok := t.reconciled[e.ID]; ok {
		e.Reconciled = true
		e.ReconciliationRef = ref
	}
	return e
}

// MarkReconciled skips deleted entries, matching the Postgres update.
func (t *tx) MarkReconciled(_ context.Context, tenantID int64, ids []int64, ref string) error {
	for _, id := range ids {
		e, ok := t.entry(tenantID, id)
		if !ok || e.Deleted {
			continue
		}
		if dirty, ok := t.entries[id]; ok {
			dirty.Reconciled = true
			dirty.ReconciliationRef = ref
			t.entries[id] = dirty
			continue
		}
		t.reconciled[id] = ref
	}
	return nil
}

func (t *tx) HasEntries(_ context.Context, tenantID, accountID int64) (bool, error) {
	return len(t.accountEntries(tenantID, accountID)) > 0, nil
}

// --- fiscal periods ---

func (t *tx) PeriodsCovering(_ context.Context, tenantID int64, date time.Time) ([]ledger.FiscalPeriod, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []ledger.FiscalPeriod
	for _, p := range t.s.periods {
		if p.TenantID == tenantID && p.Covers(date) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- audit ---

func (t *tx) AppendAudit(_ context.Context, e ledger.AuditEntry) error {
	t.audit = append(t.audit, e)
	return nil
}

// ListAudit returns entries newest first.
func (t *tx) ListAudit(_ context.Context, tenantID int64, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	t.s.mu.RLock()
	all := append(append([]ledger.AuditEntry(nil), t.s.audit...), t.audit...)
	t.s.mu.RUnlock()
	var out []ledger.AuditEntry
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if e.TenantID != tenantID {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != 0 && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// --- reconciliation ---

func (t *tx) reconciliation(tenantID, id int64) (ledger.Reconciliation, bool) {
	r, ok := t.recs[id]
	if !ok {
		t.s.mu.RLock()
		r, ok = t.s.reconciliations[id]
		t.s.mu.RUnlock()
	}
	if !ok || r.TenantID != tenantID {
		return ledger.Reconciliation{}, false
	}
	return r, true
}

func (t *tx) CreateReconciliation(_ context.Context, r ledger.Reconciliation) (ledger.Reconciliation, error) {
	r.ID = t.s.id()
	t.recs[r.ID] = r
	return r, nil
}

func (t *tx) GetReconciliation(_ context.Context, tenantID, id int64) (ledger.Reconciliation, error) {
	r, ok := t.reconciliation(tenantID, id)
	if !ok {
		return ledger.Reconciliation{}, notFound("reconciliation", id)
	}
	return r, nil
}

func (t *tx) LockReconciliation(ctx context.Context, tenantID, id int64) (ledger.Reconciliation, error) {
	if _, ok := t.reconciliation(tenantID, id); !ok {
		return ledger.Reconciliation{}, notFound("reconciliation", id)
	}
	if err := t.s.lock(ctx, t, lockKey{table: "reconciliation", id: id}); err != nil {
		return ledger.Reconciliation{}, err
	}
	r, _ := t.reconciliation(tenantID, id)
	return r, nil
}

func (t *tx) UpdateReconciliation(_ context.Context, r ledger.Reconciliation) (ledger.Reconciliation, error) {
	if _, ok := t.reconciliation(r.TenantID, r.ID); !ok {
		return ledger.Reconciliation{}, notFound("reconciliation", r.ID)
	}
	t.recs[r.ID] = r
	return r, nil
}

func (t *tx) ListItems(_ context.Context, reconciliationID int64) ([]ledger.ReconciliationItem, error) {
	t.s.mu.RLock()
	out := append([]ledger.ReconciliationItem(nil), t.s.items[reconciliationID]...)
	t.s.mu.RUnlock()
	for _, it := range t.items {
		if it.ReconciliationID == reconciliationID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) InsertItem(_ context.Context, item ledger.ReconciliationItem) (ledger.ReconciliationItem, error) {
	item.ID = t.s.id()
	t.items = append(t.items, item)
	return item, nil
}
