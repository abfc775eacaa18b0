package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// errorEnvelope matches the API's JSON error shape.
type errorEnvelope struct {
	Error string `json:"error"`
}

// FallbackFunc writes the response for a request whose handler panicked.
type FallbackFunc func(w http.ResponseWriter, r *http.Request)

// JSONError writes a 500 response in the API's JSON envelope.
func JSONError(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(errorEnvelope{Error: "internal server error"}) //nolint:errcheck
}

// Recoverer returns middleware that recovers from panics, logs the stack
// trace and hands the response to fallback. Webhook routes pass a fallback
// that still answers with call markup, so the caller hears an apology
// instead of the provider's generic error.
// It should be mounted after StructuredLogger so the request ID is available.
func Recoverer(logger *slog.Logger, fallback FallbackFunc) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = JSONError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						"request_id", chimw.GetReqID(r.Context()),
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					fallback(w, r)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
