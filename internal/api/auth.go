package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey int

const ownerIDKey contextKey = iota

// TokenVerifier resolves a bearer token to a verified owner id. Credential
// issuance and storage live in the authentication collaborator; this package
// only consumes verified identities.
type TokenVerifier func(token string) (ownerID string, err error)

// StaticTokenVerifier builds a TokenVerifier over a fixed token-to-owner map.
// It is the default verifier wired from config and the one used in tests.
func StaticTokenVerifier(tokens map[string]string) TokenVerifier {
	return func(token string) (string, error) {
		for candidate, owner := range tokens {
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
				return owner, nil
			}
		}
		return "", errInvalidToken
	}
}

var errInvalidToken = &authError{"invalid or expired token"}

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }

// RequireAuth rejects requests without a resolvable bearer identity and
// attaches the owner id to the request context.
func RequireAuth(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "please login to continue")
				return
			}
			ownerID, err := verify(auth[len(prefix):])
			if err != nil || ownerID == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerIDFromContext extracts the verified owner id set by RequireAuth.
func OwnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}

// ServiceKeyAuth guards internal service-to-service endpoints with a shared
// key carried in the X-Service-Key header. An empty configured key disables
// the surface entirely.
func ServiceKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Service-Key")
			if key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "unauthorized service")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
