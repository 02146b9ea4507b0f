package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/bizledger/internal/ledger"
)

func (t *tx) PeriodsCovering(ctx context.Context, tenantID int64, date time.Time) ([]ledger.FiscalPeriod, error) {
	rows, err := t.q.Query(ctx, `
select id, tenant_id, name, start_date, end_date, is_active, is_closed
from fiscal_periods where tenant_id = $1 and start_date <= $2 and end_date >= $2
order by id`, tenantID, ledger.DateOf(date))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []ledger.FiscalPeriod
	for rows.Next() {
		var p ledger.FiscalPeriod
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.StartDate, &p.EndDate, &p.Active, &p.Closed); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- audit trail ---

func (t *tx) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	_, err := t.q.Exec(ctx, `
insert into audit_trail (id, tenant_id, entity_type, entity_id, action, old_value, new_value, username, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.EntityType, e.EntityID, string(e.Action), nullJSON(e.OldValue), nullJSON(e.NewValue), e.Username, e.CreatedAt)
	return mapErr(err)
}

func (t *tx) ListAudit(ctx context.Context, tenantID int64, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := t.q.Query(ctx, `
select id, tenant_id, entity_type, entity_id, action, old_value, new_value, username, created_at
from audit_trail
where tenant_id = $1 and ($2 = '' or entity_type = $2) and ($3 = 0 or entity_id = $3)
order by seq desc
limit $4`, tenantID, f.EntityType, f.EntityID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []ledger.AuditEntry
	for rows.Next() {
		var e ledger.AuditEntry
		var action string
		var oldV, newV []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EntityType, &e.EntityID, &action, &oldV, &newV, &e.Username, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = ledger.AuditAction(action)
		e.OldValue, e.NewValue = oldV, newV
		out = append(out, e)
	}
	return out, rows.Err()
}

// nullJSON keeps an absent snapshot as SQL NULL rather than invalid jsonb.
func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// --- reconciliations ---

const reconciliationCols = `id, tenant_id, account_id, statement_date, statement_balance, reference, status,
	created_by, created_at, finalized_at`

func scanReconciliation(row pgx.Row) (ledger.Reconciliation, error) {
	var r ledger.Reconciliation
	var status string
	err := row.Scan(&r.ID, &r.TenantID, &r.AccountID, &r.StatementDate, &r.StatementBalance, &r.Reference, &status,
		&r.CreatedBy, &r.CreatedAt, &r.FinalizedAt)
	r.Status = ledger.ReconciliationStatus(status)
	return r, err
}

func (t *tx) CreateReconciliation(ctx context.Context, r ledger.Reconciliation) (ledger.Reconciliation, error) {
	r.StatementDate = ledger.DateOf(r.StatementDate)
	err := t.q.QueryRow(ctx, `
insert into reconciliations (tenant_id, account_id, statement_date, statement_balance, reference, status, created_by)
values ($1, $2, $3, $4, $5, $6, $7)
returning id, created_at`, r.TenantID, r.AccountID, r.StatementDate, r.StatementBalance, r.Reference, string(r.Status), r.CreatedBy).
		Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return ledger.Reconciliation{}, mapErr(err)
	}
	return r, nil
}

func (t *tx) GetReconciliation(ctx context.Context, tenantID, id int64) (ledger.Reconciliation, error) {
	r, err := scanReconciliation(t.q.QueryRow(ctx, `select `+reconciliationCols+` from reconciliations where tenant_id = $1 and id = $2`, tenantID, id))
	if err != nil {
		return ledger.Reconciliation{}, notFound(err, "reconciliation", id)
	}
	return r, nil
}

func (t *tx) LockReconciliation(ctx context.Context, tenantID, id int64) (ledger.Reconciliation, error) {
	r, err := scanReconciliation(t.q.QueryRow(ctx, `select `+reconciliationCols+` from reconciliations where tenant_id = $1 and id = $2 for update`, tenantID, id))
	if err != nil {
		return ledger.Reconciliation{}, notFound(err, "reconciliation", id)
	}
	return r, nil
}

func (t *tx) UpdateReconciliation(ctx context.Context, r ledger.Reconciliation) (ledger.Reconciliation, error) {
	tag, err := t.q.Exec(ctx, `update reconciliations set status = $3, finalized_at = $4 where tenant_id = $1 and id = $2`,
		r.TenantID, r.ID, string(r.Status), r.FinalizedAt)
	if err := affected(tag, err, "reconciliation", r.ID); err != nil {
		return ledger.Reconciliation{}, err
	}
	return r, nil
}

func (t *tx) ListItems(ctx context.Context, reconciliationID int64) ([]ledger.ReconciliationItem, error) {
	rows, err := t.q.Query(ctx, `
select id, reconciliation_id, ledger_id, statement_amount, statement_date, match_type, created_by, created_at
from reconciliation_items where reconciliation_id = $1 order by id`, reconciliationID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []ledger.ReconciliationItem
	for rows.Next() {
		var it ledger.ReconciliationItem
		var mt string
		if err := rows.Scan(&it.ID, &it.ReconciliationID, &it.EntryID, &it.StatementAmount, &it.StatementDate, &mt, &it.CreatedBy, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.MatchType = ledger.MatchType(mt)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *tx) InsertItem(ctx context.Context, it ledger.ReconciliationItem) (ledger.ReconciliationItem, error) {
	it.StatementDate = ledger.DateOf(it.StatementDate)
	err := t.q.QueryRow(ctx, `
insert into reconciliation_items (reconciliation_id, ledger_id, statement_amount, statement_date, match_type, created_by)
values ($1, $2, $3, $4, $5, $6)
returning id, created_at`, it.ReconciliationID, it.EntryID, it.StatementAmount, it.StatementDate, string(it.MatchType), it.CreatedBy).
		Scan(&it.ID, &it.CreatedAt)
	if err != nil {
		return ledger.ReconciliationItem{}, mapErr(err)
	}
	return it, nil
}
