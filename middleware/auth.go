package middleware

import (
	"context"
	"net/http"
	"strings"

	"cowrite-server/core"
	"cowrite-server/handlers/auth"

	"github.com/go-chi/render"
)

type contextKey string

const IdentityContextKey = contextKey("identity")

// Authenticate resolves the bearer token, if any, to an identity. Requests
// without an Authorization header proceed anonymously; a malformed or
// invalid token is rejected.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
				return
			}

			identity, err := verifier.Identify(parts[1])
			if err != nil || identity.Anonymous() {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom returns the authenticated identity, or the anonymous identity.
func IdentityFrom(ctx context.Context) core.Identity {
	identity, _ := ctx.Value(IdentityContextKey).(core.Identity)
	return identity
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity core.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}
