package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/guard"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Authenticate verifies the bearer token and stores the identity in the
// request context. With required false, a missing or bad token lets the
// request through anonymously.
func Authenticate(verifier guard.Verifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := auth.ExtractBearer(r.Header.Get("Authorization"))
			identity, err := verifier.Verify(r.Context(), credential, required)
			if err != nil {
				httputil.WriteDenial(w, err)
				return
			}
			if identity != nil {
				r = r.WithContext(withIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows the request when the authenticated identity has one
// of roles. Admin always passes. It must run after Authenticate.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := rbac.CheckRoles(IdentityFrom(r.Context()), roles...); err != nil {
				httputil.WriteDenial(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	ctx = contextkeys.With(ctx, contextkeys.IdentityKey, identity)
	return observability.WithIdentityID(ctx, identity.ID)
}

// IdentityFrom returns the authenticated identity, or nil for anonymous
// requests
func IdentityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
	return identity
}

// ResourceFrom returns the resource loaded by RequireAction
func ResourceFrom(ctx context.Context) *rbac.Resource {
	res, _ := ctx.Value(contextkeys.ResourceKey).(*rbac.Resource)
	return res
}

// DecisionFrom returns the guard decision made by RequireAction
func DecisionFrom(ctx context.Context) *guard.Decision {
	d, _ := ctx.Value(contextkeys.DecisionKey).(*guard.Decision)
	return d
}
