package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/bizledger/internal/ledger"
)

// GET /v1/accounts
func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.accounts.List(r.Context(), principal(r).TenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	typ := ledger.AccountType(r.URL.Query().Get("account_type"))
	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		if typ != "" && a.Type != typ {
			continue
		}
		out = append(out, toAccountResponse(a))
	}
	toJSON(w, http.StatusOK, map[string]any{"items": out})
}

// POST /v1/accounts
func (s *Server) postAccount(w http.ResponseWriter, r *http.Request) {
	var req postAccountRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p := principal(r)
	a := ledger.Account{
		TenantID:       p.TenantID,
		Code:           req.Code,
		Name:           req.Name,
		Type:           req.Type,
		NormalBalance:  ledger.NormalBalance(req.NormalBalance),
		ParentID:       req.ParentID,
		OpeningBalance: decimal.Zero,
	}
	if req.OpeningBalance != nil {
		a.OpeningBalance = *req.OpeningBalance
	}
	created, err := s.accounts.Create(r.Context(), a, p.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toAccountResponse(created))
}

// GET /v1/accounts/{id}
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid account id")
		return
	}
	a, err := s.accounts.Get(r.Context(), principal(r).TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(a))
}

// PATCH /v1/accounts/{id}
func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid account id")
		return
	}
	var req patchAccountRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p := principal(r)
	a, err := s.accounts.Update(r.Context(), p.TenantID, id, req.toInput(), p.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAccountResponse(a))
}

// DELETE /v1/accounts/{id}
func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid account id")
		return
	}
	p := principal(r)
	if err := s.accounts.Delete(r.Context(), p.TenantID, id, p.Actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/accounts/{id}/ledger?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) getAccountLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid account id")
		return
	}
	var f ledger.EntryFilter
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		from, err := parseDate(raw, "from")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := parseDate(raw, "to")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.To = to
	}
	rows, err := s.accounts.Ledger(r.Context(), principal(r).TenantID, id, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]any{"items": toEntryResponses(rows)})
}

// GET /v1/trial-balance
func (s *Server) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := s.accounts.TrialBalance(r.Context(), principal(r).TenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toTrialBalanceResponse(tb))
}
