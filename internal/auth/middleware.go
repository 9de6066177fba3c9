package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mentorly/chat-gateway/internal/domain"
)

type contextKey int

const identityKey contextKey = iota

// IdentityFromContext extracts the authenticated identity from the request
// context, or nil if the request was not authenticated.
func IdentityFromContext(ctx context.Context) *domain.Identity {
	if v, ok := ctx.Value(identityKey).(*domain.Identity); ok {
		return v
	}
	return nil
}

// WithIdentity returns a context carrying the identity; IdentityFromContext
// is its read side.
func WithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Middleware authenticates requests via an Authorization bearer token and
// injects the resolved identity into the request context.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}
