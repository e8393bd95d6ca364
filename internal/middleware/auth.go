package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"podcast-assembler/internal/logging"
	"podcast-assembler/pkg/tasks"
)

// TokenAuth rejects requests that do not carry the shared callback secret,
// either in the X-Callback-Token header or as "Authorization: Bearer <token>".
// An empty token rejects everything.
func TokenAuth(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logging.OrDiscard(logger).With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				log.Error("callback token is not configured", "path", r.URL.Path)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			got := r.Header.Get(tasks.HeaderAuthToken)
			if got == "" {
				scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " ")
				if ok && strings.EqualFold(scheme, "Bearer") {
					got = strings.TrimSpace(value)
				}
			}
			if got == "" {
				http.Error(w, "Authorization is required", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				log.Warn("invalid callback token", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
