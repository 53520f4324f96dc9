// ABOUTME: HTTP middleware for bearer-token authentication on the MCP and API endpoints
// ABOUTME: Rejects every failure with an identical 401 and attaches an Identity on success

package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/beacon/internal/telemetry"
)

// Rejection reasons, used for logs and metrics only.
const (
	ReasonMissingHeader = "missing_header"
	ReasonBadScheme     = "bad_scheme"
	ReasonEmptyToken    = "empty_token"
	ReasonBadToken      = "bad_token"
)

// Realm is advertised in the WWW-Authenticate challenge.
const Realm = "beacon"

const unauthorizedBody = `{"error":"unauthorized"}`

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and a rejection reason (empty if successful).
// The scheme is matched case-insensitively.
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", ReasonMissingHeader
	}
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ReasonBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ReasonEmptyToken
	}
	return token, ""
}

// writeUnauthorized writes the single 401 response used for all failures.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+Realm+`"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(unauthorizedBody))
}

// BearerAuth creates an HTTP middleware that requires a valid bearer token.
// The verifier's expected secret is fixed for the lifetime of the middleware.
func BearerAuth(verifier TokenVerifier, logger *slog.Logger, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	reject := func(w http.ResponseWriter, r *http.Request, reason string) {
		logger.Debug("rejected request",
			"reason", reason,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		)
		metrics.RecordAuthRejection(r.Context(), reason)
		writeUnauthorized(w)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, reason := extractBearerToken(r.Header.Get("Authorization"))
			if reason != "" {
				reject(w, r, reason)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				reject(w, r, ReasonBadToken)
				return
			}

			id := &Identity{Subject: subject, AuthenticatedAt: time.Now()}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
