package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresResourceStore keeps ownership records in guarded_resources
type PostgresResourceStore struct {
	db *sql.DB
}

// NewPostgresResourceStore creates a store on db
func NewPostgresResourceStore(db *sql.DB) *PostgresResourceStore {
	return &PostgresResourceStore{db: db}
}

func (s *PostgresResourceStore) Get(ctx context.Context, kind ResourceKind, id string) (*Resource, error) {
	query := `
		SELECT id, kind, owner_id, COALESCE(team_owner_id, ''), created_at
		FROM guarded_resources
		WHERE kind = $1 AND id = $2
	`
	var res Resource
	err := s.db.QueryRowContext(ctx, query, string(kind), id).
		Scan(&res.ID, &res.Kind, &res.OwnerID, &res.TeamOwnerID, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &res, nil
}

// Put inserts or replaces the ownership record
func (s *PostgresResourceStore) Put(ctx context.Context, res *Resource) error {
	query := `
		INSERT INTO guarded_resources (id, kind, owner_id, team_owner_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, team_owner_id = EXCLUDED.team_owner_id
		RETURNING created_at
	`
	var teamOwner sql.NullString
	if res.TeamOwnerID != "" {
		teamOwner = sql.NullString{String: res.TeamOwnerID, Valid: true}
	}
	if err := s.db.QueryRowContext(ctx, query, res.ID, string(res.Kind), res.OwnerID, teamOwner).Scan(&res.CreatedAt); err != nil {
		return fmt.Errorf("failed to put resource: %w", err)
	}
	return nil
}

func (s *PostgresResourceStore) Delete(ctx context.Context, kind ResourceKind, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM guarded_resources WHERE kind = $1 AND id = $2`, string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	if n == 0 {
		return ErrResourceNotFound
	}
	return nil
}
