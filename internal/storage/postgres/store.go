// Package postgres provides the pgx-backed ledger.Store. Every unit of work is
// one database transaction; per-row locks are SELECT ... FOR UPDATE bounded by
// the transaction's lock_timeout.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// Postgres error codes the store translates.
const (
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeUniqueViolation  = "23505"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Option customises a Store.
type Option func(*Store)

// WithLockTimeout sets the per-statement lock wait applied to every transaction.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool exposes the pool for migrations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// WithTx runs fn inside a read-committed transaction. Row locks taken by the
// repositories are released on commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgtx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = pgtx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err = pgtx.Exec(ctx, `select set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}
	if err = fn(ctx, &tx{q: pgtx}); err != nil {
		return err
	}
	if err = pgtx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// SavePeriod inserts or replaces a fiscal period. Periods are owned outside the
// engine; this exists for seeding and tests.
func (s *Store) SavePeriod(ctx context.Context, p ledger.FiscalPeriod) (ledger.FiscalPeriod, error) {
	const q = `
insert into fiscal_periods (tenant_id, name, start_date, end_date, is_active, is_closed)
values ($1, $2, $3, $4, $5, $6)
returning id`
	if p.ID != 0 {
		_, err := s.pool.Exec(ctx, `
update fiscal_periods set name = $3, start_date = $4, end_date = $5, is_active = $6, is_closed = $7
where tenant_id = $1 and id = $2`, p.TenantID, p.ID, p.Name, ledger.DateOf(p.StartDate), ledger.DateOf(p.EndDate), p.Active, p.Closed)
		return p, mapErr(err)
	}
	err := s.pool.QueryRow(ctx, q, p.TenantID, p.Name, ledger.DateOf(p.StartDate), ledger.DateOf(p.EndDate), p.Active, p.Closed).Scan(&p.ID)
	return p, mapErr(err)
}

// querier is the subset of pgx.Tx the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tx binds every repository to one pgx transaction.
type tx struct {
	q querier
}

func (t *tx) Accounts() ledger.AccountRepository               { return t }
func (t *tx) Vouchers() ledger.VoucherRepository               { return t }
func (t *tx) Entries() ledger.LedgerRepository                 { return t }
func (t *tx) Periods() ledger.PeriodRepository                 { return t }
func (t *tx) Audit() ledger.AuditRepository                    { return t }
func (t *tx) Reconciliations() ledger.ReconciliationRepository { return t }

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*tx)(nil)
)

// mapErr translates driver errors into engine sentinels. Errors it does not
// recognise are returned unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlock:
		return errs.Cause(errs.ErrAccountLocked, err)
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "accounts_tenant_code_key":
			return errs.Cause(errs.ErrDuplicateCode, err)
		case "vouchers_tenant_number_key":
			return errs.Cause(errs.ErrDuplicateNumber, err)
		case "reconciliation_items_ledger_key":
			return errs.Cause(errs.ErrAlreadyMatched, err)
		}
	}
	return err
}

// notFound wraps ErrNotFound with the missing row, or returns err mapped.
func notFound(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrNotFound, "%s %d not found", what, id)
	}
	return mapErr(err)
}

// affected reports ErrNotFound when an update touched no row.
func affected(tag pgconn.CommandTag, err error, what string, id int64) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Wrap(errs.ErrNotFound, "%s %d not found", what, id)
	}
	return nil
}

// sums scans a coalesced (debit, credit) pair.
func sums(row pgx.Row) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	if err := row.Scan(&debit, &credit); err != nil {
		return decimal.Zero, decimal.Zero, mapErr(err)
	}
	return debit, credit, nil
}

// dateOrNil passes a zero time as SQL NULL.
func dateOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := ledger.DateOf(t)
	return &d
}
