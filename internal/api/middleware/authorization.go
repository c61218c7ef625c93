package middleware

import (
	"errors"
	"net/http"
	"strings"

	internaljwt "support-desk-backend/internal/jwt"
)

// ValidateJWTMiddleware gates a route on a valid bearer token for the given
// role. Expired tokens get their own response body so clients can refresh
// and retry.
func ValidateJWTMiddleware(role internaljwt.Role) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := strings.TrimSpace(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(tokenString, "Bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))

			if _, err := internaljwt.ParseToken(tokenString, role); err != nil {
				if errors.Is(err, internaljwt.ErrTokenExpired) {
					http.Error(w, "Token expired", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next(w, r)
		}
	}
}

var ValidateAgentJWT = ValidateJWTMiddleware(internaljwt.RoleAgent)
