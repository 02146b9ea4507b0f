package slug

import "testing"

func TestCode(t *testing.T) {
	cases := map[string]string{
		"CASH001":         "CASH001",
		"cash001":         "CASH001",
		" Petty cash 01 ": "PETTY_CASH_01",
		"sales--north":    "SALES--NORTH",
		"a__b":            "A_B",
		"_x_":             "X",
		"":                "",
		"bank: main/usd":  "BANK_MAIN_USD",
	}
	for in, want := range cases {
		if got := Code(in); got != want {
			t.Errorf("Code(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsCode(t *testing.T) {
	for _, ok := range []string{"CASH001", "AR-01", "SAL_001"} {
		if !IsCode(ok) {
			t.Errorf("IsCode(%q) = false", ok)
		}
	}
	for _, bad := range []string{"C", "cash", "CASH 1", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456"} {
		if IsCode(bad) {
			t.Errorf("IsCode(%q) = true", bad)
		}
	}
}
