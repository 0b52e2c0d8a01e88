package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
)

// authMiddleware returns an HTTP middleware that enforces API key
// authentication on the document endpoints. If apiKey is empty the
// middleware is a no-op: auth is disabled and a warning is logged at server
// startup (not per-request).
//
// Protected routes must supply either of:
//
//	Authorization: Bearer <apiKey>
//	X-API-Key: <apiKey>
//
// Requests missing or presenting an incorrect key receive 401 with a
// WWW-Authenticate: Bearer challenge and a JSON error body. The presented
// value is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-API-Key"))
		}
		if token == "" {
			log.Warn("auth: missing credentials", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa"`)
			writeJSONError(w, "authorization required", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa" error="invalid_token"`)
			writeJSONError(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
