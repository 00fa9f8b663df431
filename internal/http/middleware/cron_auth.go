package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronSecret guards scheduler-triggered endpoints with a shared bearer secret.
// Rejected requests never reach next.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(secret) == "" {
				writeJSONError(w, http.StatusInternalServerError, map[string]any{
					"success": false,
					"error":   "cron secret not configured",
				})
				return
			}
			if !ValidCronSecret(r.Header.Get("Authorization"), secret) {
				writeJSONError(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidCronSecret reports whether an Authorization header value carries secret.
func ValidCronSecret(header, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte("Bearer "+secret)) == 1
}
