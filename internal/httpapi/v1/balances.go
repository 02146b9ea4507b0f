package v1

import (
	"errors"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/tinoosan/bizledger/internal/errs"
)

// POST /v1/accounts/{id}/recalculate
func (s *Server) recalculateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid account id")
		return
	}
	res, err := s.balances.RecalculateAccount(r.Context(), principal(r).TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, recalcResponse(res))
}

// POST /v1/balances/recalculate
func (s *Server) recalculateAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.balances.RecalculateAll(r.Context(), principal(r).TenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, recalcResponse(res))
}

// GET /v1/balances/verify reports drift with 200; the report is the payload.
func (s *Server) verifyBalances(w http.ResponseWriter, r *http.Request) {
	report, err := s.balances.Verify(r.Context(), principal(r).TenantID)
	if err != nil && !errors.Is(err, errs.ErrBalanceDrift) {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toDriftResponse(report))
}
