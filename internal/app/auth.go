package app

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// AdminAuth guards administrative routes with a bearer token compared
// against the configured bcrypt hash.
func AdminAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(strings.TrimSpace(token))); err != nil {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
