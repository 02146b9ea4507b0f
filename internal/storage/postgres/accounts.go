package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/bizledger/internal/ledger"
)

const accountCols = `id, tenant_id, code, name, account_type, normal_balance, parent_id,
	opening_balance, current_balance, is_system_account, is_active, is_deleted, created_at, updated_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	var typ, normal string
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &typ, &normal, &a.ParentID,
		&a.OpeningBalance, &a.CurrentBalance, &a.System, &a.Active, &a.Deleted, &a.CreatedAt, &a.UpdatedAt)
	a.Type = ledger.AccountType(typ)
	a.NormalBalance = ledger.NormalBalance(normal)
	return a, err
}

func (t *tx) GetAccount(ctx context.Context, tenantID, id int64) (ledger.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, `select `+accountCols+` from accounts where tenant_id = $1 and id = $2`, tenantID, id))
	if err != nil {
		return ledger.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

func (t *tx) GetAccountByCode(ctx context.Context, tenantID int64, code string) (ledger.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, `select `+accountCols+` from accounts where tenant_id = $1 and code = $2`, tenantID, code))
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

func (t *tx) LockAccount(ctx context.Context, tenantID, id int64) (ledger.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, `select `+accountCols+` from accounts where tenant_id = $1 and id = $2 for update`, tenantID, id))
	if err != nil {
		return ledger.Account{}, notFound(err, "account", id)
	}
	return a, nil
}

func (t *tx) AccountsByIDs(ctx context.Context, tenantID int64, ids []int64) (map[int64]ledger.Account, error) {
	rows, err := t.q.Query(ctx, `select `+accountCols+` from accounts where tenant_id = $1 and id = any($2)`, tenantID, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make(map[int64]ledger.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (t *tx) ListAccounts(ctx context.Context, tenantID int64) ([]ledger.Account, error) {
	rows, err := t.q.Query(ctx, `select `+accountCols+` from accounts where tenant_id = $1 order by code`, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	const q = `
insert into accounts (tenant_id, code, name, account_type, normal_balance, parent_id,
	opening_balance, current_balance, is_system_account, is_active, is_deleted)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
returning id, created_at, updated_at`
	err := t.q.QueryRow(ctx, q, a.TenantID, a.Code, a.Name, string(a.Type), string(a.NormalBalance), a.ParentID,
		a.OpeningBalance, a.CurrentBalance, a.System, a.Active, a.Deleted).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

// UpdateAccount writes the mutable columns. The balance cache only changes
// through SetCurrentBalance.
func (t *tx) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	const q = `
update accounts set name = $3, parent_id = $4, is_active = $5, is_deleted = $6, updated_at = now()
where tenant_id = $1 and id = $2
returning updated_at`
	err := t.q.QueryRow(ctx, q, a.TenantID, a.ID, a.Name, a.ParentID, a.Active, a.Deleted).Scan(&a.UpdatedAt)
	if err != nil {
		return ledger.Account{}, notFound(err, "account", a.ID)
	}
	return a, nil
}

func (t *tx) SetCurrentBalance(ctx context.Context, tenantID, id int64, balance decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `update accounts set current_balance = $3, updated_at = now() where tenant_id = $1 and id = $2`, tenantID, id, balance)
	return affected(tag, err, "account", id)
}

func (t *tx) CountChildren(ctx context.Context, tenantID, id int64) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `select count(*) from accounts where tenant_id = $1 and parent_id = $2 and not is_deleted`, tenantID, id).Scan(&n)
	return n, mapErr(err)
}
