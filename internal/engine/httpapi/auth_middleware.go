package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/F6/labctrl-toolbox/internal/engine/auth"
)

type claimsContextKey struct{}

// BearerMiddleware decodes and validates the Authorization: Bearer header
// on every request, storing the resulting auth.TokenData in the request
// context. Missing or invalid tokens respond 401 immediately (spec.md §6
// Error status codes).
func BearerMiddleware(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			claims, err := a.Validate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the TokenData BearerMiddleware stored.
func ClaimsFromContext(ctx context.Context) (auth.TokenData, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(auth.TokenData)
	return claims, ok
}

var errNoClaims = errors.New("httpapi: no claims in request context; BearerMiddleware not mounted")

// RequireAccess enforces a minimum access level on routes that mutate
// state; routes with no access requirement (spec.md §6 "none") should not
// use this middleware at all.
func RequireAccess(required auth.AccessLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": errNoClaims.Error()})
				return
			}
			if err := auth.RequireAtLeast(claims.AccessLevel, required); err != nil {
				WriteJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient access level"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
