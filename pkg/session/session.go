// Package session resolves the calling tenant for API requests.
//
// Full session management (login, signup, token issuance) lives in the
// platform's auth layer and is out of scope here; this package only defines
// the boundary the webhook API needs: turn a request into a tenant id, or
// redirect to the login page when there is none.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrResolveFailed indicates the resolver could not inspect the request.
var ErrResolveFailed = errors.New("session: failed to resolve tenant")

// Resolver extracts the tenant identifier from a request. An empty string
// with a nil error means the request carries no session.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) (string, error)

func (f ResolverFunc) Resolve(r *http.Request) (string, error) { return f(r) }

// BearerResolver reads the tenant id from the Authorization bearer token.
// The platform gateway terminates real authentication and forwards an
// opaque tenant-scoped token; deployments with richer schemes plug in their
// own Resolver.
type BearerResolver struct{}

func (BearerResolver) Resolve(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(token), nil
}

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// WithTenantID stores the resolved tenant id in the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// TenantID retrieves the tenant id from the context.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Middleware resolves the tenant for every request and stores it in the
// request context. Requests without a session are redirected to loginURL
// rather than answered with a JSON error.
func Middleware(resolver Resolver, loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := resolver.Resolve(r)
			if err != nil || tenantID == "" {
				http.Redirect(w, r, loginURL, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
		})
	}
}
