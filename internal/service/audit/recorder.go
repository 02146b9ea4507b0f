// Package audit writes the append-only audit trail. Log is always called with
// the repository of the transaction that performs the change it describes, so
// a rolled-back change leaves no audit row behind.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// Entity types recorded in the trail.
const (
	EntityAccount        = "account"
	EntityVoucher        = "voucher"
	EntityReconciliation = "reconciliation"
)

// Record describes one state change. Old and New are marshalled to JSON;
// nil leaves the column empty.
type Record struct {
	TenantID   int64
	EntityType string
	EntityID   int64
	Action     ledger.AuditAction
	Old        any
	New        any
	Actor      string
}

type Recorder struct {
	now func() time.Time
}

func NewRecorder() *Recorder { return &Recorder{now: time.Now} }

// WithClock overrides the timestamp source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *Recorder) Log(ctx context.Context, repo ledger.AuditRepository, rec Record) error {
	oldValue, err := snapshot(rec.Old)
	if err != nil {
		return fmt.Errorf("audit: old value: %w", err)
	}
	newValue, err := snapshot(rec.New)
	if err != nil {
		return fmt.Errorf("audit: new value: %w", err)
	}
	actor := rec.Actor
	if actor == "" {
		actor = "system"
	}
	return repo.AppendAudit(ctx, ledger.AuditEntry{
		ID:         uuid.New(),
		TenantID:   rec.TenantID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		OldValue:   oldValue,
		NewValue:   newValue,
		Username:   actor,
		CreatedAt:  r.now().UTC(),
	})
}

// List reads the trail newest first.
func (r *Recorder) List(ctx context.Context, store ledger.Store, tenantID int64, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var out []ledger.AuditEntry
	err := store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		out, err = tx.Audit().ListAudit(ctx, tenantID, f)
		return err
	})
	return out, err
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
