package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/denial"
)

// Guard decides role and ownership questions
type Guard struct {
	resources ResourceStore
	teams     TeamDirectory
}

// NewGuard creates a guard. A nil team directory disables the team
// membership rule.
func NewGuard(resources ResourceStore, teams TeamDirectory) *Guard {
	return &Guard{resources: resources, teams: teams}
}

// RequireRole checks identity against the role set of action
func (g *Guard) RequireRole(identity *auth.Identity, action Action) error {
	if identity == nil {
		return denial.Unauthenticated("rbac.role")
	}
	policy, ok := Lookup(action)
	if !ok {
		return denial.Forbidden("rbac.role", "")
	}
	if !policy.Allows(identity.Role) {
		return denial.Forbidden("rbac.role", "")
	}
	return nil
}

// CheckRoles checks identity against an explicit role set. Admin always
// passes and an empty set allows any identity.
func CheckRoles(identity *auth.Identity, roles ...auth.Role) error {
	if identity == nil {
		return denial.Unauthenticated("rbac.role")
	}
	if !(Policy{Roles: roles}).Allows(identity.Role) {
		return denial.Forbidden("rbac.role", "")
	}
	return nil
}

// Load fetches a resource without any ownership check
func (g *Guard) Load(ctx context.Context, kind ResourceKind, id string) (*Resource, error) {
	if id == "" {
		return nil, denial.NotFound("rbac.load", string(kind))
	}
	res, err := g.resources.Get(ctx, kind, id)
	if errors.Is(err, ErrResourceNotFound) {
		return nil, denial.NotFound("rbac.load", string(kind))
	}
	if err != nil {
		return nil, denial.Internal("rbac.load", fmt.Errorf("load %s %s: %w", kind, id, err))
	}
	return res, nil
}

// Authorize loads the resource and checks that identity may act on it.
// Rules are tried in order and the first match wins:
//
//  1. admin
//  2. resource owner
//  3. resource team owner
//  4. member of the owner's or team owner's team
//
// The loaded resource is returned so callers need not fetch it again.
func (g *Guard) Authorize(ctx context.Context, identity *auth.Identity, kind ResourceKind, id string) (*Resource, error) {
	if identity == nil {
		return nil, denial.Unauthenticated("rbac.ownership")
	}

	res, err := g.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if identity.IsAdmin() {
		return res, nil
	}
	if res.OwnerID == identity.ID {
		return res, nil
	}
	if res.TeamOwnerID != "" && res.TeamOwnerID == identity.ID {
		return res, nil
	}

	if g.teams != nil {
		teamOwner, err := g.teams.TeamOwner(ctx, identity.ID)
		if err != nil {
			return nil, denial.Internal("rbac.ownership", fmt.Errorf("team lookup for %s: %w", identity.ID, err))
		}
		if teamOwner != "" && (teamOwner == res.OwnerID || teamOwner == res.TeamOwnerID) {
			return res, nil
		}
	}

	return nil, denial.Forbidden("rbac.ownership", "you do not have access to this resource")
}
