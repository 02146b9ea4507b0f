package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/meta"
)

const voucherCols = `id, tenant_id, voucher_number, voucher_type, voucher_date, base_currency, exchange_rate,
	total_debit, total_credit, narration, reference_type, reference_id, reference_number, metadata,
	is_posted, reversed_voucher_id, reversal_voucher_id, is_deleted, created_by, created_at, posted_at`

func scanVoucher(row pgx.Row) (ledger.Voucher, error) {
	var v ledger.Voucher
	var rawMeta []byte
	err := row.Scan(&v.ID, &v.TenantID, &v.Number, &v.Type, &v.Date, &v.BaseCurrency, &v.ExchangeRate,
		&v.TotalDebit, &v.TotalCredit, &v.Narration, &v.ReferenceType, &v.ReferenceID, &v.ReferenceNumber, &rawMeta,
		&v.Posted, &v.ReversedVoucherID, &v.ReversalVoucherID, &v.Deleted, &v.CreatedBy, &v.CreatedAt, &v.PostedAt)
	if err != nil {
		return ledger.Voucher{}, err
	}
	if len(rawMeta) > 0 {
		if err := v.Metadata.UnmarshalJSON(rawMeta); err != nil {
			return ledger.Voucher{}, err
		}
	}
	return v, nil
}

func encodeMetadata(m meta.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return m.MarshalJSON()
}

func (t *tx) CreateVoucher(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	rawMeta, err := encodeMetadata(v.Metadata)
	if err != nil {
		return ledger.Voucher{}, err
	}
	const q = `
insert into vouchers (tenant_id, voucher_number, voucher_type, voucher_date, base_currency, exchange_rate,
	total_debit, total_credit, narration, reference_type, reference_id, reference_number, metadata,
	is_posted, reversed_voucher_id, reversal_voucher_id, is_deleted, created_by, posted_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
returning id, created_at`
	err = t.q.QueryRow(ctx, q, v.TenantID, v.Number, v.Type, ledger.DateOf(v.Date), v.BaseCurrency, v.ExchangeRate,
		v.TotalDebit, v.TotalCredit, v.Narration, v.ReferenceType, v.ReferenceID, v.ReferenceNumber, rawMeta,
		v.Posted, v.ReversedVoucherID, v.ReversalVoucherID, v.Deleted, v.CreatedBy, v.PostedAt).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return ledger.Voucher{}, mapErr(err)
	}
	v.Date = ledger.DateOf(v.Date)

	const lq = `
insert into voucher_lines (voucher_id, line_no, account_id, debit_base, credit_base, description, reverses_ledger_id)
values ($1, $2, $3, $4, $5, $6, $7)
returning id`
	lines := make([]ledger.VoucherLine, len(v.Lines))
	for i, l := range v.Lines {
		l.VoucherID = v.ID
		if err := t.q.QueryRow(ctx, lq, v.ID, l.LineNo, l.AccountID, l.Debit, l.Credit, l.Description, l.ReversesEntryID).Scan(&l.ID); err != nil {
			return ledger.Voucher{}, mapErr(err)
		}
		lines[i] = l
	}
	v.Lines = lines
	return v, nil
}

func (t *tx) voucherLines(ctx context.Context, voucherID int64) ([]ledger.VoucherLine, error) {
	rows, err := t.q.Query(ctx, `
select id, voucher_id, line_no, account_id, debit_base, credit_base, description, reverses_ledger_id
from voucher_lines where voucher_id = $1 order by line_no`, voucherID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []ledger.VoucherLine
	for rows.Next() {
		var l ledger.VoucherLine
		if err := rows.Scan(&l.ID, &l.VoucherID, &l.LineNo, &l.AccountID, &l.Debit, &l.Credit, &l.Description, &l.ReversesEntryID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *tx) loadVoucher(ctx context.Context, query string, tenantID, id int64) (ledger.Voucher, error) {
	v, err := scanVoucher(t.q.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return ledger.Voucher{}, notFound(err, "voucher", id)
	}
	if v.Lines, err = t.voucherLines(ctx, v.ID); err != nil {
		return ledger.Voucher{}, err
	}
	return v, nil
}

func (t *tx) GetVoucher(ctx context.Context, tenantID, id int64) (ledger.Voucher, error) {
	return t.loadVoucher(ctx, `select `+voucherCols+` from vouchers where tenant_id = $1 and id = $2`, tenantID, id)
}

func (t *tx) LockVoucher(ctx context.Context, tenantID, id int64) (ledger.Voucher, error) {
	return t.loadVoucher(ctx, `select `+voucherCols+` from vouchers where tenant_id = $1 and id = $2 for update`, tenantID, id)
}

func (t *tx) UpdateVoucher(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	const q = `
update vouchers set is_posted = $3, posted_at = $4, is_deleted = $5, reversed_voucher_id = $6, reversal_voucher_id = $7
where tenant_id = $1 and id = $2`
	tag, err := t.q.Exec(ctx, q, v.TenantID, v.ID, v.Posted, v.PostedAt, v.Deleted, v.ReversedVoucherID, v.ReversalVoucherID)
	if err := affected(tag, err, "voucher", v.ID); err != nil {
		return ledger.Voucher{}, err
	}
	return t.GetVoucher(ctx, v.TenantID, v.ID)
}

func (t *tx) VoucherNumberExists(ctx context.Context, tenantID int64, number string) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `select exists(select 1 from vouchers where tenant_id = $1 and voucher_number = $2)`, tenantID, number).Scan(&ok)
	return ok, mapErr(err)
}

// NextVoucherSequence bumps the series row, which stays locked until the
// transaction ends. A rolled-back voucher returns its number to the series.
func (t *tx) NextVoucherSequence(ctx context.Context, tenantID int64, voucherType string, year int) (int64, error) {
	const q = `
insert into voucher_sequences (tenant_id, voucher_type, year, last_value)
values ($1, $2, $3, 1)
on conflict (tenant_id, voucher_type, year) do update set last_value = voucher_sequences.last_value + 1
returning last_value`
	var n int64
	err := t.q.QueryRow(ctx, q, tenantID, voucherType, year).Scan(&n)
	return n, mapErr(err)
}
