package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/tinoosan/bizledger/internal/ledger"
	"github.com/tinoosan/bizledger/internal/service/reconcile"
)

// POST /v1/reconciliations
func (s *Server) postReconciliation(w http.ResponseWriter, r *http.Request) {
	var req postReconciliationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.StatementDate, "statement_date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principal(r)
	rec, err := s.recon.Create(r.Context(), ledger.Reconciliation{
		TenantID:         p.TenantID,
		AccountID:        req.AccountID,
		StatementDate:    date,
		StatementBalance: req.StatementBalance,
		Reference:        req.Reference,
		CreatedBy:        p.Actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toReconciliationResponse(rec))
}

// GET /v1/reconciliations/{id}
func (s *Server) getReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid reconciliation id")
		return
	}
	rec, items, err := s.recon.Get(r.Context(), principal(r).TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	matches := make([]matchResponse, 0, len(items))
	for _, it := range items {
		matches = append(matches, toMatchResponse(it))
	}
	toJSON(w, http.StatusOK, map[string]any{"reconciliation": toReconciliationResponse(rec), "matches": matches})
}

// GET /v1/reconciliations/{id}/unmatched
func (s *Server) getUnmatched(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid reconciliation id")
		return
	}
	rows, err := s.recon.Unmatched(r.Context(), principal(r).TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, map[string]any{"items": toEntryResponses(rows)})
}

// POST /v1/reconciliations/{id}/matches
func (s *Server) postMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid reconciliation id")
		return
	}
	var req postMatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	date, err := parseDate(req.StatementDate, "statement_date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principal(r)
	item, err := s.recon.Match(r.Context(), p.TenantID, reconcile.MatchInput{
		ReconciliationID: id,
		EntryID:          req.EntryID,
		StatementAmount:  req.StatementAmount,
		StatementDate:    date,
		MatchType:        req.MatchType,
		Actor:            p.Actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toMatchResponse(item))
}

// POST /v1/reconciliations/{id}/auto-match
func (s *Server) postAutoMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid reconciliation id")
		return
	}
	var req autoMatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	lines := make([]reconcile.StatementLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		date, err := parseDate(l.Date, "lines.date")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lines = append(lines, reconcile.StatementLine{Amount: l.Amount, Date: date, Reference: l.Reference})
	}
	p := principal(r)
	res, err := s.recon.AutoMatch(r.Context(), p.TenantID, id, lines, p.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAutoMatchResponse(res))
}

// POST /v1/reconciliations/{id}/finalize
func (s *Server) finalizeReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid reconciliation id")
		return
	}
	p := principal(r)
	sum, err := s.recon.Finalize(r.Context(), p.TenantID, id, p.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, finalizeResponse{
		Reconciliation:   toReconciliationResponse(sum.Reconciliation),
		MatchedCount:     sum.MatchedCount,
		BookBalance:      sum.BookBalance,
		StatementBalance: sum.StatementBalance,
		Difference:       sum.Difference,
	})
}
