package v1

import (
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/meta"
	"github.com/tinoosan/bizledger/internal/service/journal"
	"github.com/tinoosan/bizledger/internal/service/voucher"
)

// POST /v1/vouchers
func (s *Server) postVoucher(w http.ResponseWriter, r *http.Request) {
	var req postVoucherRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	in, err := s.toPostInput(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.journal.Post(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_, entries, err := s.journal.Get(r.Context(), v.TenantID, v.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toVoucherResponse(v, entries))
}

func (s *Server) toPostInput(r *http.Request, req postVoucherRequest) (journal.PostInput, error) {
	p := principal(r)
	date, err := parseDate(req.Date, "voucher_date")
	if err != nil {
		return journal.PostInput{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.BaseCurrency))
	if currency == "" {
		currency = s.currency
	}
	in := journal.PostInput{
		TenantID:        p.TenantID,
		Number:          req.Number,
		Type:            req.Type,
		Date:            date,
		BaseCurrency:    currency,
		Narration:       req.Narration,
		ReferenceType:   req.ReferenceType,
		ReferenceID:     req.ReferenceID,
		ReferenceNumber: req.ReferenceNumber,
		Draft:           req.Draft,
		Actor:           p.Actor,
		Lines:           make([]voucher.Line, 0, len(req.Lines)),
	}
	if req.ExchangeRate != nil {
		in.ExchangeRate = *req.ExchangeRate
		if in.ExchangeRate.IsZero() {
			return journal.PostInput{}, errs.ErrInvalidExchangeRate
		}
	}
	if len(req.Metadata) > 0 {
		in.Metadata = meta.Metadata(req.Metadata)
	}
	for i, l := range req.Lines {
		debit, err := lineAmount(l.Debit, l.DebitMinor, currency, linesField(i, "debit"))
		if err != nil {
			return journal.PostInput{}, err
		}
		credit, err := lineAmount(l.Credit, l.CreditMinor, currency, linesField(i, "credit"))
		if err != nil {
			return journal.PostInput{}, err
		}
		in.Lines = append(in.Lines, voucher.Line{AccountID: l.AccountID, Debit: debit, Credit: credit, Description: l.Description})
	}
	return in, nil
}

func linesField(i int, name string) string {
	return "lines[" + strconv.Itoa(i) + "]." + name
}

// GET /v1/vouchers/{id}
func (s *Server) getVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid voucher id")
		return
	}
	v, entries, err := s.journal.Get(r.Context(), principal(r).TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toVoucherResponse(v, entries))
}

// voucherAction runs one lifecycle transition on the voucher in the path and
// renders the resulting voucher with its ledger rows.
func (s *Server) voucherAction(status int, action func(r *http.Request, tenantID, id int64, actor string) (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(chi.URLParam(r, "id"))
		if !ok {
			badRequest(w, "invalid voucher id")
			return
		}
		p := principal(r)
		resultID, err := action(r, p.TenantID, id, p.Actor)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		v, entries, err := s.journal.Get(r.Context(), p.TenantID, resultID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		toJSON(w, status, toVoucherResponse(v, entries))
	}
}

// POST /v1/vouchers/{id}/post
func (s *Server) postDraft(w http.ResponseWriter, r *http.Request) {
	s.voucherAction(http.StatusOK, func(r *http.Request, tenantID, id int64, actor string) (int64, error) {
		v, err := s.journal.PostDraft(r.Context(), tenantID, id, actor)
		return v.ID, err
	})(w, r)
}

// POST /v1/vouchers/{id}/reverse responds with the new reversal voucher.
func (s *Server) reverseVoucher(w http.ResponseWriter, r *http.Request) {
	s.voucherAction(http.StatusCreated, func(r *http.Request, tenantID, id int64, actor string) (int64, error) {
		v, err := s.journal.Reverse(r.Context(), tenantID, id, actor)
		return v.ID, err
	})(w, r)
}

// POST /v1/vouchers/{id}/unpost
func (s *Server) unpostVoucher(w http.ResponseWriter, r *http.Request) {
	s.voucherAction(http.StatusOK, func(r *http.Request, tenantID, id int64, actor string) (int64, error) {
		v, err := s.journal.Unpost(r.Context(), tenantID, id, actor)
		return v.ID, err
	})(w, r)
}

// DELETE /v1/vouchers/{id}
func (s *Server) deleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		badRequest(w, "invalid voucher id")
		return
	}
	p := principal(r)
	if err := s.journal.Delete(r.Context(), p.TenantID, id, p.Actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
