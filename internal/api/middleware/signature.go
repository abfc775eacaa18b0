package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the provider's HMAC of the request URL and form.
const SignatureHeader = "X-Twilio-Signature"

// SignatureConfig configures webhook authentication.
type SignatureConfig struct {
	AuthToken  string
	AccountSID string // when set, requests for other accounts are rejected
	PublicURL  string // externally visible base URL; derived from the request when empty
}

// TwilioSignature returns middleware that rejects webhook requests that were
// not signed with the account's auth token. It parses the request form, so
// handlers behind it can read r.PostForm directly.
func TwilioSignature(cfg SignatureConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	validator := client.NewRequestValidator(cfg.AuthToken)
	logger = logger.With("subsystem", "webhook-auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				logger.Warn("rejecting webhook with unreadable form", "path", r.URL.Path, "error", err)
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}

			params := make(map[string]string, len(r.PostForm))
			for k, v := range r.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}

			url := RequestOrigin(r, cfg.PublicURL) + r.URL.RequestURI()
			sig := r.Header.Get(SignatureHeader)
			if sig == "" || !validator.Validate(url, params, sig) {
				logger.Warn("rejecting webhook with invalid signature",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"signed", sig != "",
				)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			if cfg.AccountSID != "" {
				if acct := params["AccountSid"]; acct != "" && acct != cfg.AccountSID {
					logger.Warn("rejecting webhook for another account", "path", r.URL.Path, "account_sid", acct)
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestOrigin returns the externally visible scheme://host of r. A
// configured publicURL wins; otherwise proxy headers are honored before the
// connection's own scheme and Host.
func RequestOrigin(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(proto)
	}

	host := r.Host
	if fwd := firstHeaderValue(r, "X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}

// firstHeaderValue returns the first comma-separated value of a header
// that proxies may append to.
func firstHeaderValue(r *http.Request, name string) string {
	v := r.Header.Get(name)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
