package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/bizledger/internal/config"
	"github.com/tinoosan/bizledger/internal/idempotency"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/account"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/service/balance"
	"github.com/tinoosan/bizledger/internal/service/journal"
	"github.com/tinoosan/bizledger/internal/service/reconcile"
	"github.com/tinoosan/bizledger/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var today = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	h     http.Handler
	cash  ledger.Account
	sales ledger.Account
}

type voucherResp struct {
	ID                int64           `json:"id"`
	Number            string          `json:"voucher_number"`
	Type              string          `json:"voucher_type"`
	Status            string          `json:"status"`
	TotalDebit        decimal.Decimal `json:"total_debit"`
	ReversedVoucherID *int64          `json:"reversed_voucher_id"`
	ReversalVoucherID *int64          `json:"reversal_voucher_id"`
	Lines             []struct {
		AccountID  int64           `json:"account_id"`
		Debit      decimal.Decimal `json:"debit"`
		DebitMinor int64           `json:"debit_minor"`
	} `json:"lines"`
	Entries []struct {
		ID        int64           `json:"id"`
		AccountID int64           `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	} `json:"entries"`
}

type errResp struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
}

type options struct {
	auth        config.AuthConfig
	lockTimeout time.Duration
	ready       []ReadyChecker
	logs        *bytes.Buffer
}

func setup(t *testing.T, opts ...func(*options)) fixture {
	t.Helper()
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	store := memory.New()
	if o.lockTimeout > 0 {
		store.WithLockTimeout(o.lockTimeout)
	}
	store.SeedPeriod(ledger.FiscalPeriod{TenantID: 1, Name: "FY2025", StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), Active: true})
	store.SeedPeriod(ledger.FiscalPeriod{TenantID: 1, Name: "FY2024", StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), Active: true, Closed: true})
	cash := store.SeedAccount(ledger.Account{TenantID: 1, Code: "CASH001", Name: "Cash", Type: ledger.AccountTypeAsset, NormalBalance: ledger.NormalDebit, OpeningBalance: decimal.NewFromInt(1000), CurrentBalance: decimal.NewFromInt(1000), Active: true})
	sales := store.SeedAccount(ledger.Account{TenantID: 1, Code: "SAL001", Name: "Sales", Type: ledger.AccountTypeRevenue, NormalBalance: ledger.NormalCredit, Active: true})

	log := testLogger()
	if o.logs != nil {
		log = slog.New(slog.NewJSONHandler(o.logs, nil))
	}
	now := func() time.Time { return today }
	rec := audit.NewRecorder().WithClock(now)
	srv := New(Deps{
		Store:          store,
		Journal:        journal.New(store, journal.Options{Logger: log, Now: now, Audit: rec, AllowUnpost: true}),
		Accounts:       account.New(store, rec),
		Balances:       balance.NewRecalculator(store, balance.Options{Workers: 2, Logger: log}),
		Reconciliation: reconcile.New(store, reconcile.Options{Now: now, Audit: rec, Logger: log}),
		Audit:          rec,
		Idempotency:    idempotency.NewGuard(idempotency.NewMemoryStore(), time.Hour),
		Ready:          o.ready,
		Auth:           o.auth,
		Logger:         log,
	})
	return fixture{store: store, h: srv.Handler(), cash: cash, sales: sales}
}

func (f fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerTenant, "1")
	req.Header.Set(headerActor, "alice")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f fixture) sale(amount string) map[string]any {
	return map[string]any{
		"voucher_type": "SV",
		"voucher_date": "2025-03-15",
		"narration":    "Cash sale",
		"lines": []map[string]any{
			{"account_id": f.cash.ID, "debit": amount},
			{"account_id": f.sales.ID, "credit": amount},
		},
	}
}

func TestVouchers_PostGetReverse(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/v1/vouchers", f.sale("500.00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[voucherResp](t, rec)
	assert.Equal(t, "SV-2025-000001", v.Number)
	assert.Equal(t, "POSTED", v.Status)
	require.Len(t, v.Entries, 2)
	for _, e := range v.Entries {
		if e.AccountID == f.cash.ID {
			assert.True(t, e.Balance.Equal(decimal.NewFromInt(1500)))
		}
	}

	rec = f.do(t, http.MethodGet, "/v1/vouchers/"+strconv.FormatInt(v.ID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/vouchers/"+strconv.FormatInt(v.ID, 10)+"/reverse", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decode[voucherResp](t, rec)
	assert.Equal(t, "REV", rev.Type)
	require.NotNil(t, rev.ReversedVoucherID)
	assert.Equal(t, v.ID, *rev.ReversedVoucherID)

	rec = f.do(t, http.MethodGet, "/v1/vouchers/"+strconv.FormatInt(v.ID, 10), nil)
	orig := decode[voucherResp](t, rec)
	assert.Equal(t, "REVERSED", orig.Status)

	rec = f.do(t, http.MethodPost, "/v1/vouchers/"+strconv.FormatInt(v.ID, 10)+"/reverse", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_reversed", decode[errResp](t, rec).Code)
}

func TestVouchers_RequestErrors(t *testing.T) {
	f := setup(t)

	unbalanced := f.sale("100")
	unbalanced["lines"] = []map[string]any{
		{"account_id": f.cash.ID, "debit": "100"},
		{"account_id": f.sales.ID, "credit": "90"},
	}
	rec := f.do(t, http.MethodPost, "/v1/vouchers", unbalanced)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decode[errResp](t, rec)
	assert.Equal(t, "unbalanced", e.Code)
	assert.Equal(t, "validation", e.Kind)

	rec = f.do(t, http.MethodPost, "/v1/vouchers", map[string]any{"voucher_date": "2025-03-15"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[errResp](t, rec).Fields, "lines")

	closed := f.sale("10")
	closed["voucher_date"] = "2024-06-01"
	rec = f.do(t, http.MethodPost, "/v1/vouchers", closed)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e = decode[errResp](t, rec)
	assert.Equal(t, "period", e.Kind)
	assert.Equal(t, "period_closed", e.Code)

	withUnknown := f.sale("10")
	withUnknown["colour"] = "red"
	rec = f.do(t, http.MethodPost, "/v1/vouchers", withUnknown)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/vouchers", bytes.NewBufferString(`{}`))
	req.Header.Set(headerTenant, "1")
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	rec = f.do(t, http.MethodGet, "/v1/vouchers/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/vouchers/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVouchers_MinorUnits(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/vouchers", map[string]any{
		"voucher_date": "2025-03-15",
		"lines": []map[string]any{
			{"account_id": f.cash.ID, "debit_minor": 1550},
			{"account_id": f.sales.ID, "credit_minor": 1550},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[voucherResp](t, rec)
	assert.Equal(t, "JV-2025-000001", v.Number)
	assert.True(t, v.TotalDebit.Equal(decimal.RequireFromString("15.50")))
	assert.Equal(t, int64(1550), v.Lines[0].DebitMinor)

	rec = f.do(t, http.MethodPost, "/v1/vouchers", map[string]any{
		"voucher_date": "2025-03-15",
		"lines": []map[string]any{
			{"account_id": f.cash.ID, "debit": "1", "debit_minor": 100},
			{"account_id": f.sales.ID, "credit": "1"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[errResp](t, rec).Fields, "lines[0].debit")
}

func TestVouchers_IdempotencyKey(t *testing.T) {
	f := setup(t)
	body := f.sale("25")

	first := f.do(t, http.MethodPost, "/v1/vouchers", body, headerIdempotencyKey, "sale-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := f.do(t, http.MethodPost, "/v1/vouchers", body, headerIdempotencyKey, "sale-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(headerReplayed))
	assert.Equal(t, decode[voucherResp](t, first).ID, decode[voucherResp](t, second).ID)

	a, err := account.New(f.store, nil).Get(context.Background(), 1, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(1025)), "posted once")

	rec := f.do(t, http.MethodPost, "/v1/vouchers", f.sale("26"), headerIdempotencyKey, "sale-1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[errResp](t, rec).Fields, "idempotency_key")
}

func TestVouchers_DraftLifecycle(t *testing.T) {
	f := setup(t)
	draft := f.sale("40")
	draft["draft"] = true
	rec := f.do(t, http.MethodPost, "/v1/vouchers", draft)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[voucherResp](t, rec)
	assert.Equal(t, "DRAFT", v.Status)
	assert.Empty(t, v.Entries)

	id := strconv.FormatInt(v.ID, 10)
	rec = f.do(t, http.MethodPost, "/v1/vouchers/"+id+"/post", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "POSTED", decode[voucherResp](t, rec).Status)

	rec = f.do(t, http.MethodDelete, "/v1/vouchers/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/vouchers/"+id+"/unpost", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "DRAFT", decode[voucherResp](t, rec).Status)

	rec = f.do(t, http.MethodDelete, "/v1/vouchers/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVouchers_LockTimeoutIsRetryable(t *testing.T) {
	f := setup(t, func(o *options) { o.lockTimeout = 30 * time.Millisecond })
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.Accounts().LockAccount(ctx, 1, f.cash.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	rec := f.do(t, http.MethodPost, "/v1/vouchers", f.sale("5"), headerIdempotencyKey, "locked-1")
	close(release)
	<-done
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "concurrency", decode[errResp](t, rec).Kind)

	// The key was released, so the retry posts.
	rec = f.do(t, http.MethodPost, "/v1/vouchers", f.sale("5"), headerIdempotencyKey, "locked-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(headerReplayed))
}

func TestAuth(t *testing.T) {
	t.Run("dev headers", func(t *testing.T) {
		f := setup(t)
		req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("jwt", func(t *testing.T) {
		cfg := config.AuthConfig{Secret: "s3cret", Issuer: "ledger-test"}
		f := setup(t, func(o *options) { o.auth = cfg })

		tok, err := IssueToken(cfg, 1, "bob", time.Hour, time.Now())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		other, err := IssueToken(config.AuthConfig{Secret: "other", Issuer: "ledger-test"}, 1, "bob", time.Hour, time.Now())
		require.NoError(t, err)
		req = httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		rec = httptest.NewRecorder()
		f.h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		expired, err := IssueToken(cfg, 1, "bob", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		req = httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec = httptest.NewRecorder()
		f.h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// Health stays public.
		rec = httptest.NewRecorder()
		f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAccounts_CRUDAndLedger(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/v1/accounts", map[string]any{"code": "bank 01", "name": "Bank", "account_type": "ASSET", "opening_balance": "50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acct struct {
		ID             int64           `json:"id"`
		Code           string          `json:"code"`
		NormalBalance  string          `json:"normal_balance"`
		CurrentBalance decimal.Decimal `json:"current_balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, "BANK_01", acct.Code)
	assert.Equal(t, "DEBIT", acct.NormalBalance)
	assert.True(t, acct.CurrentBalance.Equal(decimal.NewFromInt(50)))

	rec = f.do(t, http.MethodPost, "/v1/accounts", map[string]any{"code": "BANK_01", "name": "Again", "account_type": "ASSET"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "duplicate_code", decode[errResp](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/v1/accounts", map[string]any{"code": "X1", "name": "X", "account_type": "CASHISH"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[errResp](t, rec).Fields, "account_type")

	id := strconv.FormatInt(acct.ID, 10)
	rec = f.do(t, http.MethodPatch, "/v1/accounts/"+id, map[string]any{"name": "Main bank"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPatch, "/v1/accounts/"+id, map[string]any{"code": "OTHER"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/vouchers", f.sale("10")).Code)
	rec = f.do(t, http.MethodGet, "/v1/accounts/"+strconv.FormatInt(f.cash.ID, 10)+"/ledger?from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledgerRows struct {
		Items []struct {
			Balance decimal.Decimal `json:"balance"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledgerRows))
	require.Len(t, ledgerRows.Items, 1)
	assert.True(t, ledgerRows.Items[0].Balance.Equal(decimal.NewFromInt(1010)))

	rec = f.do(t, http.MethodDelete, "/v1/accounts/"+strconv.FormatInt(f.cash.ID, 10), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodDelete, "/v1/accounts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/accounts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/trial-balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tb struct {
		Balanced bool `json:"balanced"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	assert.False(t, tb.Balanced, "opening balance has no equity counterpart")
}

func TestBalances_VerifyAndRecalculate(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/vouchers", f.sale("10")).Code)
	f.store.TamperAccountBalance(f.cash.ID, decimal.NewFromInt(1))

	rec := f.do(t, http.MethodGet, "/v1/balances/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Clean    bool `json:"clean"`
		Accounts []struct {
			AccountID int64           `json:"account_id"`
			Computed  decimal.Decimal `json:"computed"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Clean)
	require.Len(t, report.Accounts, 1)
	assert.True(t, report.Accounts[0].Computed.Equal(decimal.NewFromInt(1010)))

	rec = f.do(t, http.MethodPost, "/v1/accounts/"+strconv.FormatInt(f.cash.ID, 10)+"/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated_accounts":1,"updated_entries":0}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/balances/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated_accounts":0,"updated_entries":0}`, rec.Body.String())
}

func TestReconciliation_Flow(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/vouchers", f.sale("40"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/reconciliations", map[string]any{
		"account_id": f.cash.ID, "statement_date": "2025-03-31", "statement_balance": "1040", "reference": "STMT-MAR",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	base := "/v1/reconciliations/" + strconv.FormatInt(r.ID, 10)

	rec = f.do(t, http.MethodGet, base+"/unmatched", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/auto-match", map[string]any{"lines": []map[string]any{
		{"amount": "40", "date": "2025-03-16"},
		{"amount": "99", "date": "2025-03-16"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var am struct {
		Matched   []json.RawMessage `json:"matched"`
		Unmatched []json.RawMessage `json:"unmatched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &am))
	assert.Len(t, am.Matched, 1)
	assert.Len(t, am.Unmatched, 1)

	rec = f.do(t, http.MethodPost, base+"/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fin struct {
		MatchedCount int             `json:"matched_count"`
		Difference   decimal.Decimal `json:"difference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fin))
	assert.Equal(t, 1, fin.MatchedCount)
	assert.True(t, fin.Difference.IsZero())

	rec = f.do(t, http.MethodPost, base+"/matches", map[string]any{"ledger_id": 1, "statement_amount": "1", "statement_date": "2025-03-16"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAudit_ListsVoucherHistory(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/v1/vouchers", f.sale("10"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[voucherResp](t, rec).ID

	rec = f.do(t, http.MethodGet, "/v1/audit?entity_type=voucher&entity_id="+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Items []struct {
			Action   string `json:"action"`
			Username string `json:"username"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "CREATE", out.Items[0].Action)
	assert.Equal(t, "alice", out.Items[0].Username)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/audit?limit=0", nil).Code)
}

func TestPublicEndpoints(t *testing.T) {
	f := setup(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/dictionary/voucher-types", "/v1/dictionary/groups?type=ASSET"} {
		rec := httptest.NewRecorder()
		f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

type downChecker struct{}

func (downChecker) Ready(context.Context) error { return errors.New("connection refused") }

func TestReadyz_NamesFailingDependencies(t *testing.T) {
	f := setup(t, func(o *options) { o.ready = []ReadyChecker{memory.New(), downChecker{}} })
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	out := decode[healthResponse](t, rec)
	assert.Equal(t, "unavailable", out.Status)
	assert.Equal(t, []string{"v1.downChecker"}, out.Failures)

	ok := setup(t, func(o *options) { o.ready = []ReadyChecker{memory.New()} })
	rec = httptest.NewRecorder()
	ok.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
}

func TestAccessLog_RecordsTenantAndRoutePattern(t *testing.T) {
	var logs bytes.Buffer
	f := setup(t, func(o *options) { o.logs = &logs })

	rec := f.do(t, http.MethodGet, "/v1/vouchers/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		if m["msg"] == "http request" {
			line = m
		}
	}
	require.NotNil(t, line, logs.String())
	assert.Equal(t, "/v1/vouchers/{id}", line["route"])
	assert.Equal(t, float64(1), line["tenant_id"])
	assert.Equal(t, "alice", line["actor"])
	assert.Equal(t, float64(http.StatusNotFound), line["status"])
	assert.NotEmpty(t, line["request_id"])
	assert.Contains(t, line, "elapsed_ms")
}
