// Package rbac decides who may perform an action and on which resources.
//
// Every guarded action has a static Policy in the Policies table naming the
// roles allowed to perform it, the resource kind it targets, whether the
// caller must own that resource and which quota it consumes. The admin role
// passes every role and ownership check.
//
// Ownership is decided by Guard.Authorize. The resource is loaded first so a
// missing resource is always reported as not found, even to admins. After
// that the first matching rule wins:
//
//  1. the caller is an admin
//  2. the caller owns the resource
//  3. the caller is the resource's team owner
//  4. the caller is on the team of the resource's owner or team owner
//
// Team membership comes from a TeamDirectory. IdentityTeamDirectory reads it
// off identity records, PostgresTeamDirectory keeps it in its own table, and
// CachedTeamDirectory puts an expiring LRU in front of either.
//
// Membership needs the member's consent. An owner's Invite only records an
// invitation; the member joins when they Accept it, and a member already on
// another team is refused. Invitations and members both hold a seat, which
// is what the team_members quota counts.
//
//	guard := rbac.NewGuard(
//		rbac.NewPostgresResourceStore(db),
//		rbac.NewCachedTeamDirectory(rbac.NewPostgresTeamDirectory(db), 10000, time.Minute, metrics),
//	)
//	res, err := guard.Authorize(ctx, identity, rbac.ResourceSurvey, surveyID)
package rbac
