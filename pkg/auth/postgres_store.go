package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/warden/pkg/quota"
)

const identityColumns = `id, email, credential_hash, role, is_active, plan, COALESCE(team_owner_id, ''), created_at, updated_at`

// PostgresIdentityStore persists identities in the identities table.
type PostgresIdentityStore struct {
	db *sql.DB
}

// NewPostgresIdentityStore creates an identity store backed by db.
func NewPostgresIdentityStore(db *sql.DB) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

// Create implements IdentityStore.
func (s *PostgresIdentityStore) Create(ctx context.Context, identity *Identity) error {
	var teamOwner interface{}
	if identity.TeamOwnerID != "" {
		teamOwner = identity.TeamOwnerID
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO identities (id, email, credential_hash, role, is_active, plan, team_owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at`,
		identity.ID, normalizeEmail(identity.Email), identity.CredentialHash,
		string(identity.Role), identity.IsActive, string(identity.Plan), teamOwner,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// Get implements IdentityStore.
func (s *PostgresIdentityStore) Get(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// GetByEmail implements IdentityStore.
func (s *PostgresIdentityStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, normalizeEmail(email))
	return scanIdentity(row)
}

// SetActive implements IdentityStore.
func (s *PostgresIdentityStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `UPDATE identities SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// SetPlan implements IdentityStore.
func (s *PostgresIdentityStore) SetPlan(ctx context.Context, id string, plan quota.PlanTier) error {
	return s.exec(ctx, `UPDATE identities SET plan = $2, updated_at = NOW() WHERE id = $1`, id, string(plan))
}

// SetTeamOwner implements IdentityStore.
func (s *PostgresIdentityStore) SetTeamOwner(ctx context.Context, id, teamOwnerID string) error {
	var teamOwner interface{}
	if teamOwnerID != "" {
		teamOwner = teamOwnerID
	}
	return s.exec(ctx, `UPDATE identities SET team_owner_id = $2, updated_at = NOW() WHERE id = $1`, id, teamOwner)
}

func (s *PostgresIdentityStore) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		identity Identity
		role     string
		plan     string
	)
	err := row.Scan(
		&identity.ID, &identity.Email, &identity.CredentialHash, &role,
		&identity.IsActive, &plan, &identity.TeamOwnerID,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	identity.Role = Role(role)
	identity.Plan = quota.PlanTier(plan)
	return &identity, nil
}
