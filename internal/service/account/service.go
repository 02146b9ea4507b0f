// Package account implements the chart-of-accounts rules: unique normalized
// codes per tenant, immutable code and type, protected system accounts,
// acyclic parent links and soft deletes. It also owns the lock-ordering
// helpers the posting engine uses to reach account rows.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tinoosan/bizledger/internal/dictionary"
	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/audit"
	"github.com/tinoosan/bizledger/internal/slug"
)

// UpdateInput carries the requested changes; nil fields are left alone.
// Code and Type are accepted only to reject attempts to change them.
type UpdateInput struct {
	Name        *string
	Code        *string
	Type        *ledger.AccountType
	ParentID    *int64
	ClearParent bool
	Active      *bool
}

type Service interface {
	Create(ctx context.Context, a ledger.Account, actor string) (ledger.Account, error)
	Get(ctx context.Context, tenantID, id int64) (ledger.Account, error)
	List(ctx context.Context, tenantID int64) ([]ledger.Account, error)
	Update(ctx context.Context, tenantID, id int64, in UpdateInput, actor string) (ledger.Account, error)
	Delete(ctx context.Context, tenantID, id int64, actor string) error
	EnsureSystemAccounts(ctx context.Context, tenantID int64, actor string) ([]ledger.Account, error)
	ImportChart(ctx context.Context, tenantID int64, chart Chart, actor string) ([]ledger.Account, error)
	TrialBalance(ctx context.Context, tenantID int64) (TrialBalance, error)
	Ledger(ctx context.Context, tenantID, accountID int64, f ledger.EntryFilter) ([]ledger.Entry, error)
}

type service struct {
	store ledger.Store
	audit *audit.Recorder
}

func New(store ledger.Store, rec *audit.Recorder) Service {
	if rec == nil {
		rec = audit.NewRecorder()
	}
	return &service{store: store, audit: rec}
}

// normalize fills defaults and canonical forms without validating.
func normalize(a ledger.Account) ledger.Account {
	a.Code = slug.Code(a.Code)
	a.Name = strings.TrimSpace(a.Name)
	a.Type = ledger.AccountType(strings.ToUpper(string(a.Type)))
	a.NormalBalance = ledger.NormalBalance(strings.ToUpper(string(a.NormalBalance)))
	if a.NormalBalance == "" {
		a.NormalBalance = dictionary.NormalBalanceFor(a.Type)
	}
	return a
}

func validateCreate(a ledger.Account) error {
	if a.TenantID <= 0 {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"tenant_id": "required"})
	}
	if !slug.IsCode(a.Code) {
		return errs.ErrInvalidCode
	}
	if a.Name == "" {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"name": "required"})
	}
	if !a.Type.Valid() {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"type": "must be one of ASSET, LIABILITY, EQUITY, REVENUE, EXPENSE"})
	}
	if !a.NormalBalance.Valid() {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"normal_balance": "must be DEBIT or CREDIT"})
	}
	if a.ParentID != nil && *a.ParentID <= 0 {
		return errs.WithFields(errs.ErrInvalid, map[string]string{"parent_id": "must be positive"})
	}
	return nil
}

func (s *service) Create(ctx context.Context, a ledger.Account, actor string) (ledger.Account, error) {
	a = normalize(a)
	if err := validateCreate(a); err != nil {
		return ledger.Account{}, err
	}
	if !a.System && dictionary.IsReserved(a.Code) {
		return ledger.Account{}, errs.Wrap(errs.ErrInvalidCode, "account code %s is reserved", a.Code)
	}
	var created ledger.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		created, err = s.createInTx(ctx, tx, a, actor)
		return err
	})
	return created, err
}

func (s *service) createInTx(ctx context.Context, tx ledger.Tx, a ledger.Account, actor string) (ledger.Account, error) {
	if _, err := tx.Accounts().GetAccountByCode(ctx, a.TenantID, a.Code); err == nil {
		return ledger.Account{}, errs.Wrap(errs.ErrDuplicateCode, "account code %s already exists", a.Code)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return ledger.Account{}, err
	}
	if a.ParentID != nil {
		parent, err := tx.Accounts().GetAccount(ctx, a.TenantID, *a.ParentID)
		if err != nil || parent.Deleted {
			return ledger.Account{}, errs.WithFields(errs.ErrInvalid, map[string]string{"parent_id": "parent account not found"})
		}
	}
	a.Active = true
	a.CurrentBalance = a.OpeningBalance
	created, err := tx.Accounts().CreateAccount(ctx, a)
	if err != nil {
		return ledger.Account{}, err
	}
	err = s.audit.Log(ctx, tx.Audit(), audit.Record{
		TenantID:   created.TenantID,
		EntityType: audit.EntityAccount,
		EntityID:   created.ID,
		Action:     ledger.ActionCreate,
		New:        snapshot(created),
		Actor:      actor,
	})
	return created, err
}

func (s *service) Get(ctx context.Context, tenantID, id int64) (ledger.Account, error) {
	var out ledger.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.Accounts().GetAccount(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if a.Deleted {
			return errs.ErrNotFound
		}
		out = a
		return nil
	})
	return out, err
}

// List returns the tenant's non-deleted accounts.
func (s *service) List(ctx context.Context, tenantID int64) ([]ledger.Account, error) {
	var out []ledger.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		all, err := tx.Accounts().ListAccounts(ctx, tenantID)
		if err != nil {
			return err
		}
		out = make([]ledger.Account, 0, len(all))
		for _, a := range all {
			if !a.Deleted {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (s *service) Update(ctx context.Context, tenantID, id int64, in UpdateInput, actor string) (ledger.Account, error) {
	var updated ledger.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cur, err := tx.Accounts().LockAccount(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if cur.Deleted {
			return errs.ErrNotFound
		}
		if cur.System {
			return errs.Wrap(errs.ErrSystemAccount, "account %s is a system account", cur.Code)
		}
		if in.Code != nil && slug.Code(*in.Code) != cur.Code {
			return errs.WithFields(errs.ErrImmutable, map[string]string{"code": "cannot be changed"})
		}
		if in.Type != nil && ledger.AccountType(strings.ToUpper(string(*in.Type))) != cur.Type {
			return errs.WithFields(errs.ErrImmutable, map[string]string{"type": "cannot be changed"})
		}
		next := cur
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return errs.WithFields(errs.ErrInvalid, map[string]string{"name": "must not be empty"})
			}
			next.Name = name
		}
		if in.Active != nil {
			next.Active = *in.Active
		}
		switch {
		case in.ClearParent:
			next.ParentID = nil
		case in.ParentID != nil:
			if err := checkParent(ctx, tx.Accounts(), tenantID, id, *in.ParentID); err != nil {
				return err
			}
			pid := *in.ParentID
			next.ParentID = &pid
		}
		updated, err = tx.Accounts().UpdateAccount(ctx, next)
		if err != nil {
			return err
		}
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityAccount,
			EntityID:   id,
			Action:     ledger.ActionUpdate,
			Old:        snapshot(cur),
			New:        snapshot(updated),
			Actor:      actor,
		})
	})
	return updated, err
}

// checkParent rejects self-parenting and any parent whose ancestor chain
// reaches nodeID.
func checkParent(ctx context.Context, repo ledger.AccountRepository, tenantID, nodeID, parentID int64) error {
	if parentID == nodeID {
		return errs.Wrap(errs.ErrParentCycle, "account cannot be its own parent")
	}
	visited := map[int64]struct{}{}
	cur := &parentID
	for cur != nil {
		if *cur == nodeID {
			return errs.Wrap(errs.ErrParentCycle, "account %d is an ancestor of the proposed parent", nodeID)
		}
		if _, seen := visited[*cur]; seen {
			return errs.Wrap(errs.ErrParentCycle, "existing cycle through account %d", *cur)
		}
		visited[*cur] = struct{}{}
		a, err := repo.GetAccount(ctx, tenantID, *cur)
		if errors.Is(err, errs.ErrNotFound) || (err == nil && a.Deleted) {
			return errs.WithFields(errs.ErrInvalid, map[string]string{"parent_id": "parent account not found"})
		}
		if err != nil {
			return err
		}
		cur = a.ParentID
	}
	return nil
}

func (s *service) Delete(ctx context.Context, tenantID, id int64, actor string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cur, err := tx.Accounts().LockAccount(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if cur.Deleted {
			return errs.ErrNotFound
		}
		if cur.System {
			return errs.Wrap(errs.ErrSystemAccount, "account %s is a system account", cur.Code)
		}
		n, err := tx.Accounts().CountChildren(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.Wrap(errs.ErrHasChildren, "account %s has %d child accounts", cur.Code, n)
		}
		has, err := tx.Entries().HasEntries(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if has {
			return errs.Wrap(errs.ErrHasEntries, "account %s has ledger entries", cur.Code)
		}
		next := cur
		next.Deleted = true
		next.Active = false
		if _, err := tx.Accounts().UpdateAccount(ctx, next); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx.Audit(), audit.Record{
			TenantID:   tenantID,
			EntityType: audit.EntityAccount,
			EntityID:   id,
			Action:     ledger.ActionDelete,
			Old:        snapshot(cur),
			Actor:      actor,
		})
	})
}

// EnsureSystemAccounts creates the reserved equity accounts of the default
// chart if they are missing. It is idempotent per tenant.
func (s *service) EnsureSystemAccounts(ctx context.Context, tenantID int64, actor string) ([]ledger.Account, error) {
	equity := ledger.AccountTypeEquity
	var out []ledger.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		out = out[:0]
		for _, g := range dictionary.GroupsFor(&equity) {
			if !g.Reserved {
				continue
			}
			existing, err := tx.Accounts().GetAccountByCode(ctx, tenantID, g.Code)
			if err == nil {
				out = append(out, existing)
				continue
			}
			if !errors.Is(err, errs.ErrNotFound) {
				return err
			}
			a := normalize(ledger.Account{TenantID: tenantID, Code: g.Code, Name: g.Label, Type: g.Type, System: true})
			created, err := s.createInTx(ctx, tx, a, actor)
			if err != nil {
				return fmt.Errorf("create %s: %w", g.Code, err)
			}
			out = append(out, created)
		}
		return nil
	})
	return out, err
}

func (s *service) Ledger(ctx context.Context, tenantID, accountID int64, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		a, err := tx.Accounts().GetAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if a.Deleted {
			return errs.ErrNotFound
		}
		out, err = tx.Entries().AccountEntries(ctx, tenantID, accountID, f)
		return err
	})
	return out, err
}

func snapshot(a ledger.Account) map[string]any {
	out := map[string]any{
		"code":            a.Code,
		"name":            a.Name,
		"type":            a.Type,
		"normal_balance":  a.NormalBalance,
		"opening_balance": a.OpeningBalance.StringFixed(2),
		"active":          a.Active,
		"system":          a.System,
	}
	if a.ParentID != nil {
		out["parent_id"] = *a.ParentID
	}
	return out
}

// TrialBalanceLine shows an account's balance in the debit or credit column
// according to its sign and normal side.
type TrialBalanceLine struct {
	AccountID int64
	Code      string
	Name      string
	Type      ledger.AccountType
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

type TrialBalance struct {
	Lines       []TrialBalanceLine
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Balanced reports whether the two columns agree.
func (tb TrialBalance) Balanced() bool { return tb.TotalDebit.Equal(tb.TotalCredit) }

func (s *service) TrialBalance(ctx context.Context, tenantID int64) (TrialBalance, error) {
	accounts, err := s.List(ctx, tenantID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, a := range accounts {
		line := TrialBalanceLine{AccountID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type, Debit: decimal.Zero, Credit: decimal.Zero}
		bal := a.CurrentBalance
		debitSide := a.NormalBalance == ledger.NormalDebit
		if bal.IsNegative() {
			debitSide = !debitSide
			bal = bal.Neg()
		}
		if debitSide {
			line.Debit = bal
		} else {
			line.Credit = bal
		}
		tb.TotalDebit = tb.TotalDebit.Add(line.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(line.Credit)
		tb.Lines = append(tb.Lines, line)
	}
	return tb, nil
}
