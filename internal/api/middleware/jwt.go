package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	adminTokenIssuer = "callagent"
	adminScope       = "admin"
)

// DefaultAdminTokenTTL is the lifetime of an issued admin token (30 days).
const DefaultAdminTokenTTL = 30 * 24 * time.Hour

// AdminClaims holds the JWT claims for admin API access.
type AdminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateAdminToken creates a signed HS256 admin token for subject.
func GenerateAdminToken(secret []byte, subject string, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("admin secret is empty")
	}
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is empty")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := AdminClaims{
		Scope: adminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    adminTokenIssuer,
			Subject:   subject,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireAdminAuth returns middleware that accepts only requests carrying a
// valid admin bearer token signed with secret. An empty secret rejects
// every request. The token subject is added to the request log line.
func RequireAdminAuth(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				writeAuthError(w, "admin access is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, "invalid authorization header")
				return
			}

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				logger.Debug("admin auth: invalid jwt", "error", err)
				writeAuthError(w, "invalid or expired token")
				return
			}

			if claims.Issuer != adminTokenIssuer || claims.Scope != adminScope || claims.Subject == "" {
				writeAuthError(w, "invalid token claims")
				return
			}

			setAdmin(r.Context(), claims.Subject)
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="callagent"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(errorEnvelope{Error: msg}) //nolint:errcheck
}
