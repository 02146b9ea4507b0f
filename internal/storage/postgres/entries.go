package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/bizledger/internal/ledger"
)

const entryCols = `id, tenant_id, account_id, voucher_id, voucher_line_id, transaction_date, debit_amount,
	credit_amount, balance, description, is_reconciled, reconciliation_ref, reversed_ledger_id, is_deleted, created_at`

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var e ledger.Entry
	var lineID *int64
	err := row.Scan(&e.ID, &e.TenantID, &e.AccountID, &e.VoucherID, &lineID, &e.TransactionDate, &e.Debit,
		&e.Credit, &e.Balance, &e.Description, &e.Reconciled, &e.ReconciliationRef, &e.ReversedEntryID, &e.Deleted, &e.CreatedAt)
	if lineID != nil {
		e.VoucherLineID = *lineID
	}
	return e, err
}

func (t *tx) entries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) InsertEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	var lineID *int64
	if e.VoucherLineID != 0 {
		lineID = &e.VoucherLineID
	}
	const q = `
insert into ledgers (tenant_id, account_id, voucher_id, voucher_line_id, transaction_date, debit_amount,
	credit_amount, balance, description, is_reconciled, reconciliation_ref, reversed_ledger_id)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
returning id, created_at`
	e.TransactionDate = ledger.DateOf(e.TransactionDate)
	err := t.q.QueryRow(ctx, q, e.TenantID, e.AccountID, e.VoucherID, lineID, e.TransactionDate, e.Debit,
		e.Credit, e.Balance, e.Description, e.Reconciled, e.ReconciliationRef, e.ReversedEntryID).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return ledger.Entry{}, mapErr(err)
	}
	return e, nil
}

func (t *tx) GetEntry(ctx context.Context, tenantID, id int64) (ledger.Entry, error) {
	e, err := scanEntry(t.q.QueryRow(ctx, `select `+entryCols+` from ledgers where tenant_id = $1 and id = $2 and not is_deleted`, tenantID, id))
	if err != nil {
		return ledger.Entry{}, notFound(err, "ledger entry", id)
	}
	return e, nil
}

func (t *tx) SumThrough(ctx context.Context, tenantID, accountID int64, date time.Time) (debit, credit decimal.Decimal, err error) {
	return sums(t.q.QueryRow(ctx, `
select coalesce(sum(debit_amount), 0), coalesce(sum(credit_amount), 0)
from ledgers where tenant_id = $1 and account_id = $2 and transaction_date <= $3 and not is_deleted`,
		tenantID, accountID, ledger.DateOf(date)))
}

func (t *tx) Totals(ctx context.Context, tenantID, accountID int64) (debit, credit decimal.Decimal, err error) {
	return sums(t.q.QueryRow(ctx, `
select coalesce(sum(debit_amount), 0), coalesce(sum(credit_amount), 0)
from ledgers where tenant_id = $1 and account_id = $2 and not is_deleted`, tenantID, accountID))
}

func (t *tx) EntriesAfter(ctx context.Context, tenantID, accountID int64, date time.Time, id int64) ([]ledger.Entry, error) {
	return t.entries(ctx, `select `+entryCols+` from ledgers
where tenant_id = $1 and account_id = $2 and not is_deleted and (transaction_date, id) > ($3, $4)
order by transaction_date, id`, tenantID, accountID, ledger.DateOf(date), id)
}

func (t *tx) AccountEntries(ctx context.Context, tenantID, accountID int64, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return t.entries(ctx, `select `+entryCols+` from ledgers
where tenant_id = $1 and account_id = $2 and not is_deleted
	and ($3::date is null or transaction_date >= $3)
	and ($4::date is null or transaction_date <= $4)
order by transaction_date, id`, tenantID, accountID, dateOrNil(f.From), dateOrNil(f.To))
}

func (t *tx) VoucherEntries(ctx context.Context, tenantID, voucherID int64) ([]ledger.Entry, error) {
	return t.entries(ctx, `select `+entryCols+` from ledgers
where tenant_id = $1 and voucher_id = $2 and not is_deleted order by id`, tenantID, voucherID)
}

func (t *tx) UpdateEntryBalance(ctx context.Context, tenantID, id int64, balance decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `update ledgers set balance = $3 where tenant_id = $1 and id = $2 and not is_deleted`, tenantID, id, balance)
	return affected(tag, err, "ledger entry", id)
}

func (t *tx) DeleteEntry(ctx context.Context, tenantID, id int64) error {
	tag, err := t.q.Exec(ctx, `update ledgers set is_deleted = true where tenant_id = $1 and id = $2 and not is_deleted`, tenantID, id)
	return affected(tag, err, "ledger entry", id)
}

func (t *tx) MarkReconciled(ctx context.Context, tenantID int64, ids []int64, ref string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `update ledgers set is_reconciled = true, reconciliation_ref = $3
where tenant_id = $1 and id = any($2) and not is_deleted`, tenantID, ids, ref)
	return mapErr(err)
}

func (t *tx) HasEntries(ctx context.Context, tenantID, accountID int64) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `select exists(select 1 from ledgers where tenant_id = $1 and account_id = $2 and not is_deleted)`, tenantID, accountID).Scan(&ok)
	return ok, mapErr(err)
}
