package v1

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func requestID(r *http.Request) string { return chimw.GetReqID(r.Context()) }

type accessKey struct{}

// accessRecord carries attributes that only inner handlers learn, such as
// the authenticated tenant, back out to the access log.
type accessRecord struct {
	tenantID int64
	actor    string
}

func noteAccess(r *http.Request, p Principal) {
	if rec, ok := r.Context().Value(accessKey{}).(*accessRecord); ok {
		rec.tenantID = p.TenantID
		rec.actor = p.Actor
	}
}

// accessLog writes one line per request once the response is done. Server
// errors log at ERROR; conflicts, which include lock timeouts, at WARN.
func accessLog(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			rec := &accessRecord{}
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessKey{}, rec)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status == http.StatusConflict:
				level = slog.LevelWarn
			}
			attrs := []slog.Attr{
				slog.String("request_id", requestID(r)),
				slog.String("method", r.Method),
				slog.String("route", routeOf(r)),
				slog.Int("status", status),
				slog.Int("response_bytes", ww.BytesWritten()),
				slog.Float64("elapsed_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if rec.tenantID > 0 {
				attrs = append(attrs, slog.Int64("tenant_id", rec.tenantID), slog.String("actor", rec.actor))
			}
			if ra := ww.Header().Get("Retry-After"); ra != "" {
				attrs = append(attrs, slog.String("retry_after", ra))
			}
			l.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

// routeOf prefers the matched chi pattern so voucher ids stay out of the logs.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

// recoverPanic turns a handler panic into a 500 with the generic error body.
func recoverPanic(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					l.Error("handler panic", "request_id", requestID(r), "route", routeOf(r), "panic", v, "stack", string(debug.Stack()))
					writeErr(w, http.StatusInternalServerError, "internal error", "internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
