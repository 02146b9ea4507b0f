package v1

import (
	"net/http"
	"strconv"

	"github.com/tinoosan/bizledger/internal/ledger"
)

const maxAuditLimit = 500

// GET /v1/audit?entity_type=voucher&entity_id=12&limit=50
func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.AuditFilter{EntityType: q.Get("entity_type"), Limit: 100}
	if raw := q.Get("entity_id"); raw != "" {
		id, ok := pathID(raw)
		if !ok {
			badRequest(w, "invalid entity_id")
			return
		}
		f.EntityID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			badRequest(w, "limit must be between 1 and 500")
			return
		}
		f.Limit = n
	}
	list, err := s.audit.List(r.Context(), s.store, principal(r).TenantID, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toAuditResponse(e))
	}
	toJSON(w, http.StatusOK, map[string]any{"items": out})
}
