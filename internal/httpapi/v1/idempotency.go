package v1

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/idempotency"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

// responseCapture tees the handler's response so it can be stored for replay.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	if rc.status == 0 {
		rc.status = code
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if rc.status == 0 {
		rc.status = http.StatusOK
	}
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// idempotent replays the stored response for a repeated Idempotency-Key. A
// concurrent request with the same key gets 409 instead of a second posting.
// Server errors and lock timeouts release the key so the client can retry.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if s.idem == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			s.writeError(w, r, errs.WithFields(errs.ErrInvalid, map[string]string{"idempotency_key": "must be at most 255 characters"}))
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			badRequest(w, "could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		p := principal(r)
		scoped := s.idem.Key(strconv.FormatInt(p.TenantID, 10), r.Method, r.URL.Path, key)
		rec, state, err := s.idem.Begin(ctx, scoped, idempotency.Hash(body))
		if err != nil {
			s.log.Error("idempotency lookup failed", "request_id", requestID(r), "err", err)
			writeErr(w, http.StatusServiceUnavailable, "idempotency store unavailable", "unavailable")
			return
		}
		switch state {
		case idempotency.Replay:
			w.Header().Set(headerReplayed, "true")
			if rec.ContentType != "" {
				w.Header().Set("Content-Type", rec.ContentType)
			}
			w.WriteHeader(rec.Status)
			_, _ = w.Write(rec.Body)
			return
		case idempotency.InFlight:
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, errs.ErrInFlight)
			return
		case idempotency.Mismatch:
			s.writeError(w, r, errs.WithFields(errs.ErrInvalid, map[string]string{"idempotency_key": "reused with a different request body"}))
			return
		}

		capture := &responseCapture{ResponseWriter: w}
		next.ServeHTTP(capture, r)

		// The response is already written; storage failures only cost replay.
		store := context.WithoutCancel(ctx)
		if capture.status >= http.StatusInternalServerError || w.Header().Get("Retry-After") != "" {
			if err := s.idem.Abort(store, scoped); err != nil {
				s.log.Warn("idempotency release failed", "request_id", requestID(r), "err", err)
			}
			return
		}
		status := capture.status
		if status == 0 {
			status = http.StatusOK
		}
		err = s.idem.Finish(store, scoped, idempotency.Record{
			RequestHash: idempotency.Hash(body),
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
		})
		if err != nil {
			s.log.Warn("idempotency store failed", "request_id", requestID(r), "err", err)
		}
	})
}
