// Package contextkeys holds every request context key warden sets.
//
// Values are stored untyped here so this package has no dependencies;
// typed accessors live next to the types (middleware.IdentityFrom,
// middleware.ResourceFrom, middleware.DecisionFrom).
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.Authenticate and middleware.RequireAction
	IdentityKey Key = "identity"

	// ResourceKey contains *rbac.Resource
	// Set by: middleware.RequireAction when the action targets a resource
	ResourceKey Key = "resource"

	// DecisionKey contains *guard.Decision
	// Set by: middleware.RequireAction after the guard chain allows a request
	DecisionKey Key = "guard_decision"

	// ClientIPKey contains the resolved client IP string
	// Set by: middleware.ClientIP
	ClientIPKey Key = "client_ip"
)

// With stores value under key
func With(ctx context.Context, key Key, value interface{}) context.Context {
	return context.WithValue(ctx, key, value)
}

// GetClientIP retrieves the resolved client IP from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
