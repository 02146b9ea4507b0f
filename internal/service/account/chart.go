package account

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/dictionary"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"gopkg.in/yaml.v3"
)

// Chart is a chart-of-accounts seed file.
//
//	accounts:
//	  - code: ASSETS
//	    name: Assets
//	    type: ASSET
//	  - code: CASH001
//	    name: Cash on hand
//	    type: ASSET
//	    parent: ASSETS
//	    opening_balance: "1000.00"
type Chart struct {
	Accounts []ChartAccount `yaml:"accounts"`
}

type ChartAccount struct {
	Code           string `yaml:"code"`
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	NormalBalance  string `yaml:"normal_balance"`
	Parent         string `yaml:"parent"`
	OpeningBalance string `yaml:"opening_balance"`
}

// ParseChart decodes a YAML chart, rejecting unknown keys.
func ParseChart(r io.Reader) (Chart, error) {
	var c Chart
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Chart{}, errs.WithFields(errs.ErrInvalid, map[string]string{"chart": "empty document"})
		}
		return Chart{}, errs.Wrap(errs.ErrInvalid, "parse chart: %v", err)
	}
	return c, nil
}

// ImportChart creates the chart's accounts parent-first in a single
// transaction. Codes that already exist for the tenant are skipped, so a seed
// file can be applied repeatedly.
func (s *service) ImportChart(ctx context.Context, tenantID int64, chart Chart, actor string) ([]ledger.Account, error) {
	pending := make([]ledger.Account, 0, len(chart.Accounts))
	parents := make(map[string]string, len(chart.Accounts))
	seen := make(map[string]int, len(chart.Accounts))
	for i, ca := range chart.Accounts {
		opening := decimal.Zero
		if ca.OpeningBalance != "" {
			d, err := decimal.NewFromString(ca.OpeningBalance)
			if err != nil {
				return nil, errs.WithFields(errs.ErrInvalid, map[string]string{
					fmt.Sprintf("accounts[%d].opening_balance", i): "not a decimal",
				})
			}
			opening = d
		}
		a := normalize(ledger.Account{
			TenantID:       tenantID,
			Code:           ca.Code,
			Name:           ca.Name,
			Type:           ledger.AccountType(ca.Type),
			NormalBalance:  ledger.NormalBalance(ca.NormalBalance),
			OpeningBalance: opening,
		})
		if err := validateCreate(a); err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if dictionary.IsReserved(a.Code) {
			return nil, errs.Wrap(errs.ErrInvalidCode, "accounts[%d]: code %s is reserved", i, a.Code)
		}
		if j, dup := seen[a.Code]; dup {
			return nil, errs.Wrap(errs.ErrDuplicateCode, "accounts[%d]: code %s repeats accounts[%d]", i, a.Code, j)
		}
		seen[a.Code] = i
		if ca.Parent != "" {
			parents[a.Code] = normalize(ledger.Account{Code: ca.Parent}).Code
		}
		pending = append(pending, a)
	}

	var created []ledger.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		created = created[:0]
		ids := map[string]int64{}
		for len(pending) > 0 {
			progressed := false
			rest := pending[:0]
			for _, a := range pending {
				parentCode, hasParent := parents[a.Code]
				if hasParent {
					pid, ok := ids[parentCode]
					if !ok {
						existing, err := tx.Accounts().GetAccountByCode(ctx, tenantID, parentCode)
						switch {
						case err == nil && !existing.Deleted:
							pid, ok = existing.ID, true
							ids[parentCode] = pid
						case err != nil && !errors.Is(err, errs.ErrNotFound):
							return err
						}
					}
					if !ok {
						rest = append(rest, a)
						continue
					}
					a.ParentID = &pid
				}
				progressed = true
				if existing, err := tx.Accounts().GetAccountByCode(ctx, tenantID, a.Code); err == nil {
					ids[a.Code] = existing.ID
					continue
				} else if !errors.Is(err, errs.ErrNotFound) {
					return err
				}
				acc, err := s.createInTx(ctx, tx, a, actor)
				if err != nil {
					return fmt.Errorf("create %s: %w", a.Code, err)
				}
				ids[a.Code] = acc.ID
				created = append(created, acc)
			}
			pending = rest
			if !progressed {
				return errs.WithFields(errs.ErrInvalid, map[string]string{
					"parent": fmt.Sprintf("account %s references unknown parent %s", pending[0].Code, parents[pending[0].Code]),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
