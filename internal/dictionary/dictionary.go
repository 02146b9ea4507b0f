package dictionary

import (
	"sort"
	"strings"

	"github.com/tinoosan/bizledger/internal/ledger"
)

// VoucherType is a voucher series. Numbers are generated per type and year.
type VoucherType struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	// EngineOnly types cannot be requested by callers.
	EngineOnly bool `json:"engine_only"`
}

const (
	VoucherJournal  = "JV"
	VoucherReversal = "REV"
)

var voucherTypes = []VoucherType{
	{Code: VoucherJournal, Label: "Journal"},
	{Code: "SV", Label: "Sales"},
	{Code: "PV", Label: "Purchase"},
	{Code: "RV", Label: "Receipt"},
	{Code: "PY", Label: "Payment"},
	{Code: "CV", Label: "Contra"},
	{Code: "OB", Label: "Opening Balance"},
	{Code: VoucherReversal, Label: "Reversal", EngineOnly: true},
}

func VoucherTypes() []VoucherType {
	out := make([]VoucherType, len(voucherTypes))
	copy(out, voucherTypes)
	return out
}

// LookupVoucherType resolves a code case-insensitively.
func LookupVoucherType(code string) (VoucherType, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, vt := range voucherTypes {
		if vt.Code == code {
			return vt, true
		}
	}
	return VoucherType{}, false
}

// NormalBalanceFor is the default side for a new account of type t.
func NormalBalanceFor(t ledger.AccountType) ledger.NormalBalance {
	switch t {
	case ledger.AccountTypeAsset, ledger.AccountTypeExpense:
		return ledger.NormalDebit
	}
	return ledger.NormalCredit
}

// GroupDef is a suggested top-level account in the default chart.
type GroupDef struct {
	Code     string             `json:"code"`
	Label    string             `json:"label"`
	Type     ledger.AccountType `json:"type"`
	Reserved bool               `json:"reserved"`
}

var curated = map[ledger.AccountType][]GroupDef{
	ledger.AccountTypeEquity: {
		{Code: "OPENING_BALANCES", Label: "Opening Balances", Reserved: true},
		{Code: "RETAINED_EARNINGS", Label: "Retained Earnings", Reserved: true},
		{Code: "OWNER_EQUITY", Label: "Owner Equity"},
	},
	ledger.AccountTypeAsset: {
		{Code: "CASH", Label: "Cash"},
		{Code: "BANK", Label: "Bank"},
		{Code: "AR", Label: "Accounts Receivable"},
		{Code: "INVENTORY", Label: "Inventory"},
		{Code: "FIXED_ASSETS", Label: "Fixed Assets"},
	},
	ledger.AccountTypeLiability: {
		{Code: "AP", Label: "Accounts Payable"},
		{Code: "TAX_PAYABLE", Label: "Tax Payable"},
		{Code: "LOANS", Label: "Loans"},
	},
	ledger.AccountTypeRevenue: {
		{Code: "SALES", Label: "Sales"},
		{Code: "SERVICE_INCOME", Label: "Service Income"},
		{Code: "OTHER_INCOME", Label: "Other Income"},
	},
	ledger.AccountTypeExpense: {
		{Code: "COGS", Label: "Cost of Goods Sold"},
		{Code: "SALARIES", Label: "Salaries"},
		{Code: "RENT", Label: "Rent"},
		{Code: "UTILITIES", Label: "Utilities"},
		{Code: "GENERAL", Label: "General"},
	},
}

// IsReserved reports whether code belongs to a system account and so cannot be
// created through the chart-of-accounts API.
func IsReserved(code string) bool {
	for _, list := range curated {
		for _, g := range list {
			if g.Code == code && g.Reserved {
				return true
			}
		}
	}
	return false
}

// GroupsFor lists the curated groups for t, or for every type when t is nil,
// ordered by type then code.
func GroupsFor(t *ledger.AccountType) []GroupDef {
	var out []GroupDef
	for typ, list := range curated {
		if t != nil && typ != *t {
			continue
		}
		for _, g := range list {
			g.Type = typ
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Code < out[j].Code
	})
	return out
}
