package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth rejects requests whose Authorization header does not carry
// token. An empty token accepts any non-empty bearer token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			got = strings.TrimSpace(got)
			if !ok || got == "" {
				WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token", nil)
				return
			}
			if token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid bearer token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
