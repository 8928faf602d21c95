package middleware

import (
	"collab-docs/auth"
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

type contextKey string

const (
	ClaimsContextKey = contextKey("claims")
	UserContextKey   = contextKey("user_id")

	// DevUserHeader names the caller when no token secret is configured.
	DevUserHeader = "X-User-ID"
)

// AuthJWT requires a valid bearer token and stores its claims and subject in
// the request context. With a nil tokens, the caller is taken from the
// DevUserHeader instead.
func AuthJWT(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				userID := r.Header.Get(DevUserHeader)
				if userID == "" {
					unauthorized(w, r, DevUserHeader+" header is required")
					return
				}
				ctx := context.WithValue(r.Context(), UserContextKey, userID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, r, "Authorization header is required")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				unauthorized(w, r, "Authorization header format must be Bearer {token}")
				return
			}

			claims, err := tokens.Parse(parts[1])
			if err != nil {
				unauthorized(w, r, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, UserContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated caller set by AuthJWT.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserContextKey).(string)
	return userID
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": message})
}
