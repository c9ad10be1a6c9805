package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/quota"
)

var (
	// ErrIdentityNotFound is returned by stores when no identity matches.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// Role is the closed set of roles an identity can hold.
type Role string

const (
	RoleAdmin Role = "admin" // Bypasses role and ownership checks

	// Survey platform
	RoleResearcher Role = "researcher"
	RoleAnalyst    Role = "analyst"
	RoleViewer     Role = "viewer"

	// Subscription box marketplace
	RoleBusinessOwner Role = "business_owner"
	RoleCustomer      Role = "customer"

	// Course platform
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

var allRoles = []Role{
	RoleAdmin,
	RoleResearcher, RoleAnalyst, RoleViewer,
	RoleBusinessOwner, RoleCustomer,
	RoleInstructor, RoleStudent,
}

// Roles returns every valid role.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Realm groups the roles used by one application.
type Realm string

const (
	RealmSurvey   Realm = "survey"
	RealmCommerce Realm = "commerce"
	RealmLearning Realm = "learning"
)

var realmRoles = map[Realm][]Role{
	RealmSurvey:   {RoleAdmin, RoleResearcher, RoleAnalyst, RoleViewer},
	RealmCommerce: {RoleAdmin, RoleBusinessOwner, RoleCustomer},
	RealmLearning: {RoleAdmin, RoleInstructor, RoleStudent},
}

var realmDefaults = map[Realm]Role{
	RealmSurvey:   RoleResearcher,
	RealmCommerce: RoleCustomer,
	RealmLearning: RoleStudent,
}

// Roles returns the roles available in the realm.
func (r Realm) Roles() []Role {
	return realmRoles[r]
}

// Allows reports whether role belongs to the realm.
func (r Realm) Allows(role Role) bool {
	for _, candidate := range realmRoles[r] {
		if candidate == role {
			return true
		}
	}
	return false
}

// DefaultRole is assigned at registration when no role is requested.
func (r Realm) DefaultRole() Role {
	if role, ok := realmDefaults[r]; ok {
		return role
	}
	return RoleViewer
}

// RealmOf returns the realm a non-admin role belongs to.
func RealmOf(role Role) (Realm, bool) {
	if role == RoleAdmin {
		return "", false
	}
	for realm, roles := range realmRoles {
		for _, candidate := range roles {
			if candidate == role {
				return realm, true
			}
		}
	}
	return "", false
}

// Identity is an authenticated account.
type Identity struct {
	ID             string               `json:"id"`
	Email          string               `json:"email"`
	CredentialHash string               `json:"-"` // Never expose hash
	Role           Role                 `json:"role"`
	IsActive       bool                 `json:"is_active"`
	Plan           quota.PlanTier       `json:"plan"`
	Usage          map[quota.Kind]int64 `json:"usage,omitempty"`
	TeamOwnerID    string               `json:"team_owner_id,omitempty"` // Owner of the team this identity belongs to
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// AccountID implements quota.Account.
func (i *Identity) AccountID() string {
	return i.ID
}

// PlanTier implements quota.Account.
func (i *Identity) PlanTier() quota.PlanTier {
	return i.Plan
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Sanitized returns a copy safe to hand to request handlers: the
// credential hash is cleared and the usage map is not shared.
func (i *Identity) Sanitized() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.CredentialHash = ""
	if i.Usage != nil {
		cp.Usage = make(map[quota.Kind]int64, len(i.Usage))
		for k, v := range i.Usage {
			cp.Usage[k] = v
		}
	}
	return &cp
}
