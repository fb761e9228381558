package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/careviah/caregiver/internal/api/models"
)

// LocalToken protects the local API with a shared bearer token configured
// on both the agent and the presentation layer. An empty token disables
// the check.
func LocalToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			got := []byte(strings.TrimSpace(authHeader[len(bearerPrefix):]))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeUnauthorized(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized is here rather than in response to avoid an import
// cycle.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}
