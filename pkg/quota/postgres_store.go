package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresUsageStore keeps counters in the identity_usage table. The
// conditional upsert makes the limit check and increment a single statement.
type PostgresUsageStore struct {
	db *sql.DB
}

// NewPostgresUsageStore creates a usage store backed by db.
func NewPostgresUsageStore(db *sql.DB) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

// Usage implements UsageStore.
func (s *PostgresUsageStore) Usage(ctx context.Context, accountID string, kind Kind) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM identity_usage WHERE identity_id = $1 AND kind = $2`,
		accountID, string(kind),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// Add implements UsageStore.
func (s *PostgresUsageStore) Add(ctx context.Context, accountID string, kind Kind, n int64, limit Limit) (int64, error) {
	var (
		count int64
		err   error
	)

	if limit.IsUnlimited() {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO identity_usage (identity_id, kind, count, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (identity_id, kind) DO UPDATE
			SET count = identity_usage.count + EXCLUDED.count, updated_at = NOW()
			RETURNING count`,
			accountID, string(kind), n,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO identity_usage (identity_id, kind, count, updated_at)
			SELECT $1, $2, $3::bigint, NOW() WHERE $3::bigint <= $4::bigint
			ON CONFLICT (identity_id, kind) DO UPDATE
			SET count = identity_usage.count + EXCLUDED.count, updated_at = NOW()
			WHERE identity_usage.count + EXCLUDED.count <= $4::bigint
			RETURNING count`,
			accountID, string(kind), n, limit.Value(),
		).Scan(&count)
	}

	if errors.Is(err, sql.ErrNoRows) {
		current, usageErr := s.Usage(ctx, accountID, kind)
		if usageErr != nil {
			return 0, usageErr
		}
		return current, ErrLimitReached
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// Sub implements UsageStore.
func (s *PostgresUsageStore) Sub(ctx context.Context, accountID string, kind Kind, n int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identity_usage
		SET count = GREATEST(count - $3, 0), updated_at = NOW()
		WHERE identity_id = $1 AND kind = $2`,
		accountID, string(kind), n,
	)
	if err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}
