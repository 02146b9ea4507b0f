// Package memory provides an in-memory ledger.Store used for development and
// tests. Each transaction buffers its writes and applies them atomically on
// commit; row locks are per-row channels held until commit or rollback, so the
// posting engine sees the same locking behaviour as with Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// entryKey orders an account's entries: ascending by (Date, ID).
type entryKey struct {
	Date time.Time
	ID   int64
}

type seqKey struct {
	tenantID int64
	typ      string
	year     int
}

type lockKey struct {
	table string
	id    int64
}

// Store holds committed state guarded by mu. Row locks live in locks and are
// independent of mu.
type Store struct {
	mu              sync.RWMutex
	accounts        map[int64]ledger.Account
	vouchers        map[int64]ledger.Voucher
	entries         map[int64]ledger.Entry
	entryKeys       map[int64][]entryKey // by account
	entriesByVouch  map[int64][]int64
	periods         map[int64]ledger.FiscalPeriod
	audit           []ledger.AuditEntry
	reconciliations map[int64]ledger.Reconciliation
	items           map[int64][]ledger.ReconciliationItem
	sequences       map[seqKey]int64
	nextID          int64

	lockMu      sync.Mutex
	locks       map[lockKey]chan struct{}
	lockTimeout time.Duration
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:        make(map[int64]ledger.Account),
		vouchers:        make(map[int64]ledger.Voucher),
		entries:         make(map[int64]ledger.Entry),
		entryKeys:       make(map[int64][]entryKey),
		entriesByVouch:  make(map[int64][]int64),
		periods:         make(map[int64]ledger.FiscalPeriod),
		reconciliations: make(map[int64]ledger.Reconciliation),
		items:           make(map[int64][]ledger.ReconciliationItem),
		sequences:       make(map[seqKey]int64),
		locks:           make(map[lockKey]chan struct{}),
		lockTimeout:     DefaultLockTimeout,
	}
}

// WithLockTimeout sets the row-lock wait bound.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	if d > 0 {
		s.lockTimeout = d
	}
	return s
}

// Ready reports readiness; memory is always ready.
func (s *Store) Ready(context.Context) error { return nil }

// id allocates a store-wide identifier. Like a database sequence it is not
// returned on rollback.
func (s *Store) id() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// Seed helpers for local dev/tests. They bypass transactions and audit.

// SeedAccount stores a, assigning an id when it has none. CurrentBalance
// defaults to OpeningBalance.
func (s *Store) SeedAccount(a ledger.Account) ledger.Account {
	if a.ID == 0 {
		a.ID = s.id()
	}
	if a.CurrentBalance.IsZero() {
		a.CurrentBalance = a.OpeningBalance
	}
	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()
	return a
}

// SeedPeriod stores a fiscal period; periods are owned by another system.
func (s *Store) SeedPeriod(p ledger.FiscalPeriod) ledger.FiscalPeriod {
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.mu.Lock()
	s.periods[p.ID] = p
	s.mu.Unlock()
	return p
}

// TamperEntryBalance overwrites a stored running balance, simulating a manual
// database edit.
func (s *Store) TamperEntryBalance(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Balance = balance
		s.entries[id] = e
	}
}

// TamperAccountBalance overwrites an account's cached current balance.
func (s *Store) TamperAccountBalance(id int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.CurrentBalance = balance
		s.accounts[id] = a
	}
}

// WithTx implements ledger.Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	t := newTx(s)
	defer func() {
		if p := recover(); p != nil {
			t.release()
			panic(p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, t); err != nil {
		t.release()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	err = s.commit(t)
	t.release()
	return err
}

// lock acquires the row lock for key on behalf of t, waiting at most the
// store's lock timeout. Locks are reentrant within a transaction.
func (s *Store) lock(ctx context.Context, t *tx, key lockKey) error {
	if _, held := t.held[key]; held {
		return nil
	}
	s.lockMu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.lockMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-timer.C:
		return errs.Wrap(errs.ErrAccountLocked, "%s %d is locked by another transaction", key.table, key.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit applies t's buffered writes. Unique constraints are checked against
// committed state here, as a database would at insert time.
func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.newAccounts {
		a := t.accounts[id]
		for _, other := range s.accounts {
			if other.TenantID == a.TenantID && other.Code == a.Code && other.ID != a.ID {
				return errs.Wrap(errs.ErrDuplicateCode, "account code %s already exists", a.Code)
			}
		}
	}
	for id := range t.newVouchers {
		v := t.vouchers[id]
		for _, other := range s.vouchers {
			if other.TenantID == v.TenantID && other.Number == v.Number && other.ID != v.ID {
				return errs.Wrap(errs.ErrDuplicateNumber, "voucher number %s already in use", v.Number)
			}
		}
	}

	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, v := range t.vouchers {
		s.vouchers[id] = v
	}
	newEntries := make([]int64, 0, len(t.newEntries))
	for id := range t.newEntries {
		newEntries = append(newEntries, id)
	}
	sort.Slice(newEntries, func(i, j int) bool { return newEntries[i] < newEntries[j] })
	for id, e := range t.entries {
		s.entries[id] = e
	}
	for id, ref := range t.reconciled {
		e, ok := s.entries[id]
		if !ok || e.Deleted {
			continue
		}
		e.Reconciled = true
		e.ReconciliationRef = ref
		s.entries[id] = e
	}
	for _, id := range newEntries {
		e := t.entries[id]
		s.insertEntryIndexLocked(e.AccountID, entryKey{Date: e.TransactionDate, ID: e.ID})
		s.entriesByVouch[e.VoucherID] = append(s.entriesByVouch[e.VoucherID], e.ID)
	}
	for id, r := range t.recs {
		s.reconciliations[id] = r
	}
	for _, it := range t.items {
		s.items[it.ReconciliationID] = append(s.items[it.ReconciliationID], it)
	}
	s.audit = append(s.audit, t.audit...)
	return nil
}

// insertEntryIndexLocked inserts k into the account's sorted index, keeping
// order asc by (Date, ID). Caller must hold s.mu (write lock).
func (s *Store) insertEntryIndexLocked(accountID int64, k entryKey) {
	keys := s.entryKeys[accountID]
	i := sort.Search(len(keys), func(i int) bool {
		if keys[i].Date.After(k.Date) {
			return true
		}
		if keys[i].Date.Equal(k.Date) {
			return keys[i].ID > k.ID
		}
		return false
	})
	keys = append(keys, entryKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	s.entryKeys[accountID] = keys
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*tx)(nil)
)
