package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Migration is one forward-only schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns every warden migration in version order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create identities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS identities (
					id VARCHAR(64) PRIMARY KEY,
					email VARCHAR(320) NOT NULL UNIQUE,
					credential_hash TEXT NOT NULL,
					role VARCHAR(32) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					plan VARCHAR(32) NOT NULL DEFAULT 'free',
					team_owner_id VARCHAR(64) REFERENCES identities(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_identities_team_owner_id ON identities(team_owner_id);
			`,
		},
		{
			Version:     2,
			Description: "Create identity_usage table",
			SQL: `
				CREATE TABLE IF NOT EXISTS identity_usage (
					identity_id VARCHAR(64) NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
					kind VARCHAR(32) NOT NULL,
					count BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (identity_id, kind)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create guarded_resources table",
			SQL: `
				CREATE TABLE IF NOT EXISTS guarded_resources (
					id VARCHAR(64) NOT NULL,
					kind VARCHAR(32) NOT NULL,
					owner_id VARCHAR(64) NOT NULL REFERENCES identities(id),
					team_owner_id VARCHAR(64) REFERENCES identities(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (kind, id)
				);

				CREATE INDEX IF NOT EXISTS idx_guarded_resources_owner_id ON guarded_resources(owner_id);
			`,
		},
		{
			Version:     4,
			Description: "Create team_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_members (
					member_id VARCHAR(64) PRIMARY KEY REFERENCES identities(id) ON DELETE CASCADE,
					owner_id VARCHAR(64) NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_team_members_owner_id ON team_members(owner_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					identity_id VARCHAR(64),
					role VARCHAR(32),
					action VARCHAR(64),
					resource_kind VARCHAR(32),
					resource_id VARCHAR(64),
					denial_kind VARCHAR(32),
					check_name VARCHAR(32),
					ip_address VARCHAR(64),
					request_id VARCHAR(64),
					message TEXT NOT NULL DEFAULT '',
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_identity_id ON audit_events(identity_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
		{
			Version:     6,
			Description: "Create team_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_invitations (
					owner_id VARCHAR(64) NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
					member_id VARCHAR(64) NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
					invited_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (owner_id, member_id)
				);

				CREATE INDEX IF NOT EXISTS idx_team_invitations_member_id ON team_invitations(member_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// warden_migrations. Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.Discard()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO warden_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
