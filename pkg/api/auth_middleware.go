package api

import (
	"net/http"
	"strings"

	"github.com/veriserve/veriserve/pkg/auth"
)

// RequireUpload guards the mutating upload surface. A nil validator
// rejects every request (fail closed).
func RequireUpload(validator *auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				WriteUnauthorized(w, "Authorization header must be a Bearer token")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				WriteUnauthorized(w, "Invalid token")
				return
			}

			principal := auth.Principal{Owner: claims.Owner, Collections: claims.Collections}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
