package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// wrapResponseWriter wraps http.ResponseWriter to capture the status code.
type wrapResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newWrapResponseWriter(w http.ResponseWriter) *wrapResponseWriter {
	return &wrapResponseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *wrapResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

type fieldsKey struct{}

// requestFields collects attributes handlers add for the request log line.
type requestFields struct {
	callID string
	admin  string
}

// SetCallID attaches the telephony call id to the request's log line. It is
// a no-op outside StructuredLogger.
func SetCallID(ctx context.Context, callID string) {
	if f, ok := ctx.Value(fieldsKey{}).(*requestFields); ok {
		f.callID = callID
	}
}

// setAdmin records the authenticated admin token subject.
func setAdmin(ctx context.Context, subject string) {
	if f, ok := ctx.Value(fieldsKey{}).(*requestFields); ok {
		f.admin = subject
	}
}

// StructuredLogger returns middleware that logs each request with logger.
// It records the request ID set by chi's RequestID middleware, method, path,
// response status and duration, plus the call id for webhook requests.
func StructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newWrapResponseWriter(w)
			fields := &requestFields{}
			r = r.WithContext(context.WithValue(r.Context(), fieldsKey{}, fields))

			next.ServeHTTP(wrapped, r)

			attrs := []any{
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			}
			if fields.callID != "" {
				attrs = append(attrs, "call_id", fields.callID)
			}
			if fields.admin != "" {
				attrs = append(attrs, "admin", fields.admin)
			}

			level := slog.LevelInfo
			if wrapped.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}
