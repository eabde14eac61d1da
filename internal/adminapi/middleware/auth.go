// Package middleware provides chi-compatible HTTP middleware for the
// admin API: bearer-token authentication and role enforcement.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/marmos91/galaxycache/internal/adminapi/auth"
	"github.com/marmos91/galaxycache/internal/adminapi/httputil"
)

type contextKey struct{}

var claimsContextKey = contextKey{}

// GetClaimsFromContext returns the authenticated claims stashed in ctx
// by JWTAuth, or nil if none are present.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// extractBearerToken pulls the token out of an "Authorization: Bearer
// <token>" header, case-insensitive on the scheme.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	if parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// JWTAuth requires a valid bearer token, stashing its claims in the
// request context for downstream handlers and RequireAdmin.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				httputil.Unauthorized(w, "missing or malformed Authorization header")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				httputil.Unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose claims are missing or not
// RoleAdmin. Must run after JWTAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				httputil.Unauthorized(w, "authentication required")
				return
			}
			if !claims.IsAdmin() {
				httputil.Forbidden(w, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
