package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/storage/memory"
)

func TestLog_WritesSnapshots(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	rec := audit.NewRecorder().WithClock(func() time.Time { return at })

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return rec.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   1,
			EntityType: audit.EntityVoucher,
			EntityID:   42,
			Action:     ledger.ActionPost,
			Old:        map[string]any{"status": "DRAFT"},
			New:        map[string]any{"status": "POSTED"},
		})
	}))

	got, err := rec.List(ctx, store, 1, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	e := got[0]
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, "system", e.Username)
	assert.Equal(t, at, e.CreatedAt)
	var newValue map[string]string
	require.NoError(t, json.Unmarshal(e.NewValue, &newValue))
	assert.Equal(t, "POSTED", newValue["status"])
}

func TestLog_RolledBackWithTransaction(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := audit.NewRecorder()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := rec.Log(ctx, tx.Audit(), audit.Record{TenantID: 1, EntityType: audit.EntityAccount, EntityID: 1, Action: ledger.ActionCreate, Actor: "alice"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := rec.List(ctx, store, 1, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestList_FiltersAndLimits(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := audit.NewRecorder()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for i := int64(1); i <= 5; i++ {
			typ := audit.EntityVoucher
			if i%2 == 0 {
				typ = audit.EntityAccount
			}
			if err := rec.Log(ctx, tx.Audit(), audit.Record{TenantID: 1, EntityType: typ, EntityID: i, Action: ledger.ActionCreate}); err != nil {
				return err
			}
		}
		return rec.Log(ctx, tx.Audit(), audit.Record{TenantID: 2, EntityType: audit.EntityVoucher, EntityID: 9, Action: ledger.ActionCreate})
	}))

	vouchers, err := rec.List(ctx, store, 1, ledger.AuditFilter{EntityType: audit.EntityVoucher})
	require.NoError(t, err)
	require.Len(t, vouchers, 3)
	assert.Equal(t, int64(5), vouchers[0].EntityID)

	limited, err := rec.List(ctx, store, 1, ledger.AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
