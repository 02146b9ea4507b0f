package v1

import (
	"net/http"

	"github.com/tinoosan/bizledger/internal/dictionary"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// GET /v1/dictionary/voucher-types
func (s *Server) getVoucherTypes(w http.ResponseWriter, r *http.Request) {
	toJSON(w, http.StatusOK, map[string]any{"items": dictionary.VoucherTypes()})
}

// GET /v1/dictionary/groups?type=
func (s *Server) getGroupsDictionary(w http.ResponseWriter, r *http.Request) {
	var t *ledger.AccountType
	if ts := r.URL.Query().Get("type"); ts != "" {
		tt := ledger.AccountType(ts)
		if !tt.Valid() {
			badRequest(w, "unknown account type")
			return
		}
		t = &tt
	}
	toJSON(w, http.StatusOK, map[string]any{"items": dictionary.GroupsFor(t)})
}
