package v1

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const readyTimeout = 800 * time.Millisecond

type healthResponse struct {
	Status   string   `json:"status"`
	Failures []string `json:"failures,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	toJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// readyz checks every dependency, not just the first failing one, so the
// response names all of them.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	out := healthResponse{Status: "ok"}
	for _, rc := range s.ready {
		if err := rc.Ready(ctx); err != nil {
			name := fmt.Sprintf("%T", rc)
			s.log.Warn("dependency not ready", "request_id", requestID(r), "dependency", name, "err", err)
			out.Failures = append(out.Failures, name)
		}
	}
	if len(out.Failures) > 0 {
		out.Status = "unavailable"
		toJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	toJSON(w, http.StatusOK, out)
}
