// Package schema holds the Postgres migrations for every warden table:
// identities, identity_usage, guarded_resources, team_members,
// audit_events and team_invitations.
//
// Migrations are forward only and tracked in warden_migrations.
// cmd/warden runs them at startup when WARDEN_RUN_MIGRATIONS is set.
package schema
