package voucher_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/meta"
	"github.com/tinoosan/bizledger/internal/service/voucher"
)

type accounts map[int64]ledger.Account

func (a accounts) AccountsByIDs(_ context.Context, tenantID int64, ids []int64) (map[int64]ledger.Account, error) {
	out := map[int64]ledger.Account{}
	for _, id := range ids {
		if acc, ok := a[id]; ok && acc.TenantID == tenantID {
			out[id] = acc
		}
	}
	return out, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var chart = accounts{
	1: {ID: 1, TenantID: 1, Code: "CASH", Active: true},
	2: {ID: 2, TenantID: 1, Code: "SALES", Active: true},
	3: {ID: 3, TenantID: 1, Code: "OLD", Active: false},
	4: {ID: 4, TenantID: 2, Code: "OTHER", Active: true},
}

func header() voucher.Header {
	return voucher.Header{TenantID: 1, Type: "jv", Date: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), BaseCurrency: "usd", ExchangeRate: d("1")}
}

func TestValidate_OK(t *testing.T) {
	v := voucher.NewValidator(voucher.DefaultTolerance)
	res, err := v.Validate(context.Background(), chart, header(), []voucher.Line{
		{AccountID: 1, Debit: d("60")},
		{AccountID: 1, Debit: d("40")},
		{AccountID: 2},
		{AccountID: 2, Credit: d("100"), Description: "  sale "},
	})
	require.NoError(t, err)
	assert.Equal(t, "JV", res.Type)
	assert.Equal(t, "USD", res.BaseCurrency)
	require.Len(t, res.Lines, 3)
	assert.Equal(t, 3, res.Lines[2].LineNo)
	assert.Equal(t, "sale", res.Lines[2].Description)
	assert.Equal(t, []int64{1, 2}, res.AccountIDs)
	assert.True(t, res.TotalDebit.Equal(d("100")))
	assert.True(t, res.TotalCredit.Equal(d("100")))
}

func TestValidate_Rejects(t *testing.T) {
	v := voucher.NewValidator(voucher.DefaultTolerance)
	ok := []voucher.Line{{AccountID: 1, Debit: d("10")}, {AccountID: 2, Credit: d("10")}}
	cases := []struct {
		name  string
		h     func(h *voucher.Header)
		lines []voucher.Line
		want  error
	}{
		{name: "unknown type", h: func(h *voucher.Header) { h.Type = "ZZ" }, lines: ok, want: errs.ErrInvalid},
		{name: "missing date", h: func(h *voucher.Header) { h.Date = time.Time{} }, lines: ok, want: errs.ErrInvalid},
		{name: "bad currency", h: func(h *voucher.Header) { h.BaseCurrency = "DOLLARS" }, lines: ok, want: errs.ErrInvalid},
		{name: "zero rate", h: func(h *voucher.Header) { h.ExchangeRate = decimal.Zero }, lines: ok, want: errs.ErrInvalidExchangeRate},
		{name: "metadata too large", h: func(h *voucher.Header) {
			m := meta.Metadata{}
			for i := 0; i <= meta.MaxPairs; i++ {
				m[string(rune('a'+i))] = "x"
			}
			h.Metadata = m
		}, lines: ok, want: errs.ErrInvalid},
		{name: "negative", lines: []voucher.Line{{AccountID: 1, Debit: d("-10")}, {AccountID: 2, Credit: d("-10")}}, want: errs.ErrInvalidAmount},
		{name: "both sides", lines: []voucher.Line{{AccountID: 1, Debit: d("10"), Credit: d("1")}, {AccountID: 2, Credit: d("9")}}, want: errs.ErrInvalidAmount},
		{name: "one line", lines: []voucher.Line{{AccountID: 1, Debit: d("10")}}, want: errs.ErrTooFewLines},
		{name: "unbalanced", lines: []voucher.Line{{AccountID: 1, Debit: d("100")}, {AccountID: 2, Credit: d("90")}}, want: errs.ErrUnbalanced},
		{name: "over tolerance", lines: []voucher.Line{{AccountID: 1, Debit: d("100")}, {AccountID: 2, Credit: d("99.98")}}, want: errs.ErrUnbalanced},
		{name: "inactive account", lines: []voucher.Line{{AccountID: 3, Debit: d("10")}, {AccountID: 2, Credit: d("10")}}, want: errs.ErrAccountUnavailable},
		{name: "other tenant account", lines: []voucher.Line{{AccountID: 4, Debit: d("10")}, {AccountID: 2, Credit: d("10")}}, want: errs.ErrAccountUnavailable},
		{name: "missing account id", lines: []voucher.Line{{Debit: d("10")}, {AccountID: 2, Credit: d("10")}}, want: errs.ErrAccountUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := header()
			if tc.h != nil {
				tc.h(&h)
			}
			_, err := v.Validate(context.Background(), chart, h, tc.lines)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
}

func TestValidate_ZeroTolerance(t *testing.T) {
	v := voucher.NewValidator(decimal.Zero)
	_, err := v.Validate(context.Background(), chart, header(), []voucher.Line{{AccountID: 1, Debit: d("100")}, {AccountID: 2, Credit: d("99.99")}})
	require.ErrorIs(t, err, errs.ErrUnbalanced)
}
