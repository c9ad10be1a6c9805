package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// TeamDirectory answers which account owns the team an identity belongs to.
// An empty owner means the identity is not on anyone's team.
type TeamDirectory interface {
	TeamOwner(ctx context.Context, identityID string) (string, error)
}

// Team membership errors
var (
	ErrNoInvitation  = errors.New("rbac: no pending team invitation")
	ErrAlreadyOnTeam = errors.New("rbac: identity is already on another team")
	ErrNotOnTeam     = errors.New("rbac: identity is not on the team")
)

// TeamRegistry is a TeamDirectory that can also change memberships. A
// member only joins a team by accepting the owner's invitation, so an
// owner can never claim another account's resources on their own.
type TeamRegistry interface {
	TeamDirectory
	// Invite offers memberID a seat on ownerID's team. It reports false
	// when the member is already invited or already on the team, and
	// fails with ErrAlreadyOnTeam when the member is on another team.
	Invite(ctx context.Context, ownerID, memberID string) (bool, error)
	// Accept moves memberID onto ownerID's team. It fails with
	// ErrNoInvitation unless ownerID invited memberID.
	Accept(ctx context.Context, ownerID, memberID string) error
	// RemoveMember takes memberID off ownerID's team or withdraws a
	// pending invitation.
	RemoveMember(ctx context.Context, ownerID, memberID string) error
	// Seats counts ownerID's members plus pending invitations
	Seats(ctx context.Context, ownerID string) (int64, error)
}

// IdentityTeamDirectory reads team ownership off the identity record and
// keeps invitations and the per-owner seat index in memory
type IdentityTeamDirectory struct {
	identities auth.IdentityStore

	mu      sync.Mutex
	members map[string]map[string]struct{}
	invites map[string]map[string]struct{}
}

// NewIdentityTeamDirectory wraps an identity store
func NewIdentityTeamDirectory(identities auth.IdentityStore) *IdentityTeamDirectory {
	return &IdentityTeamDirectory{
		identities: identities,
		members:    make(map[string]map[string]struct{}),
		invites:    make(map[string]map[string]struct{}),
	}
}

func (d *IdentityTeamDirectory) TeamOwner(ctx context.Context, identityID string) (string, error) {
	identity, err := d.identities.Get(ctx, identityID)
	if errors.Is(err, auth.ErrIdentityNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return identity.TeamOwnerID, nil
}

func (d *IdentityTeamDirectory) Invite(ctx context.Context, ownerID, memberID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	identity, err := d.identities.Get(ctx, memberID)
	if err != nil {
		return false, err
	}
	switch identity.TeamOwnerID {
	case ownerID:
		return false, nil
	case "":
	default:
		return false, ErrAlreadyOnTeam
	}
	if _, ok := d.invites[ownerID][memberID]; ok {
		return false, nil
	}
	addToIndex(d.invites, ownerID, memberID)
	return true, nil
}

func (d *IdentityTeamDirectory) Accept(ctx context.Context, ownerID, memberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	identity, err := d.identities.Get(ctx, memberID)
	if err != nil {
		return err
	}
	if identity.TeamOwnerID == ownerID {
		return nil
	}
	if _, ok := d.invites[ownerID][memberID]; !ok {
		return ErrNoInvitation
	}
	if identity.TeamOwnerID != "" {
		return ErrAlreadyOnTeam
	}
	if err := d.identities.SetTeamOwner(ctx, memberID, ownerID); err != nil {
		return err
	}
	removeFromIndex(d.invites, ownerID, memberID)
	addToIndex(d.members, ownerID, memberID)
	return nil
}

func (d *IdentityTeamDirectory) RemoveMember(ctx context.Context, ownerID, memberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	invited := removeFromIndex(d.invites, ownerID, memberID)
	identity, err := d.identities.Get(ctx, memberID)
	if errors.Is(err, auth.ErrIdentityNotFound) {
		removeFromIndex(d.members, ownerID, memberID)
		if invited {
			return nil
		}
		return ErrNotOnTeam
	}
	if err != nil {
		return err
	}
	if identity.TeamOwnerID != ownerID {
		if invited {
			return nil
		}
		return ErrNotOnTeam
	}
	if err := d.identities.SetTeamOwner(ctx, memberID, ""); err != nil {
		return err
	}
	removeFromIndex(d.members, ownerID, memberID)
	return nil
}

func (d *IdentityTeamDirectory) Seats(ctx context.Context, ownerID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.members[ownerID]) + len(d.invites[ownerID])), nil
}

func addToIndex(index map[string]map[string]struct{}, ownerID, memberID string) {
	set, ok := index[ownerID]
	if !ok {
		set = make(map[string]struct{})
		index[ownerID] = set
	}
	set[memberID] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, ownerID, memberID string) bool {
	set, ok := index[ownerID]
	if !ok {
		return false
	}
	if _, ok := set[memberID]; !ok {
		return false
	}
	delete(set, memberID)
	if len(set) == 0 {
		delete(index, ownerID)
	}
	return true
}

// PostgresTeamDirectory keeps accepted memberships in team_members and
// pending ones in team_invitations. A member belongs to at most one team.
type PostgresTeamDirectory struct {
	db *sql.DB
}

// NewPostgresTeamDirectory creates a directory on db
func NewPostgresTeamDirectory(db *sql.DB) *PostgresTeamDirectory {
	return &PostgresTeamDirectory{db: db}
}

func (d *PostgresTeamDirectory) TeamOwner(ctx context.Context, identityID string) (string, error) {
	var owner string
	err := d.db.QueryRowContext(ctx, `SELECT owner_id FROM team_members WHERE member_id = $1`, identityID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get team owner: %w", err)
	}
	return owner, nil
}

func (d *PostgresTeamDirectory) Invite(ctx context.Context, ownerID, memberID string) (bool, error) {
	current, err := d.TeamOwner(ctx, memberID)
	if err != nil {
		return false, err
	}
	switch current {
	case ownerID:
		return false, nil
	case "":
	default:
		return false, ErrAlreadyOnTeam
	}

	query := `
		INSERT INTO team_invitations (owner_id, member_id)
		VALUES ($1, $2)
		ON CONFLICT (owner_id, member_id) DO NOTHING
	`
	result, err := d.db.ExecContext(ctx, query, ownerID, memberID)
	if err != nil {
		return false, fmt.Errorf("failed to invite team member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Accept consumes the invitation and records the membership in one
// transaction. The identity's team_owner_id is kept in step.
func (d *PostgresTeamDirectory) Accept(ctx context.Context, ownerID, memberID string) error {
	current, err := d.TeamOwner(ctx, memberID)
	if err != nil {
		return err
	}
	if current == ownerID {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM team_invitations WHERE owner_id = $1 AND member_id = $2`, ownerID, memberID)
	if err != nil {
		return fmt.Errorf("failed to consume team invitation: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if rows == 0 {
		return ErrNoInvitation
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO team_members (member_id, owner_id)
		VALUES ($1, $2)
		ON CONFLICT (member_id) DO NOTHING
	`, memberID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if rows == 0 {
		return ErrAlreadyOnTeam
	}

	if _, err := tx.ExecContext(ctx, `UPDATE identities SET team_owner_id = $2, updated_at = NOW() WHERE id = $1`, memberID, ownerID); err != nil {
		return fmt.Errorf("failed to update team owner: %w", err)
	}
	return tx.Commit()
}

func (d *PostgresTeamDirectory) RemoveMember(ctx context.Context, ownerID, memberID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	invites, err := tx.ExecContext(ctx, `DELETE FROM team_invitations WHERE owner_id = $1 AND member_id = $2`, ownerID, memberID)
	if err != nil {
		return fmt.Errorf("failed to withdraw team invitation: %w", err)
	}
	members, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE owner_id = $1 AND member_id = $2`, ownerID, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	removedInvites, err := invites.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	removedMembers, err := members.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if removedInvites+removedMembers == 0 {
		return ErrNotOnTeam
	}

	if removedMembers > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE identities SET team_owner_id = NULL, updated_at = NOW() WHERE id = $1 AND team_owner_id = $2`, memberID, ownerID); err != nil {
			return fmt.Errorf("failed to clear team owner: %w", err)
		}
	}
	return tx.Commit()
}

func (d *PostgresTeamDirectory) Seats(ctx context.Context, ownerID string) (int64, error) {
	query := `
		SELECT (SELECT COUNT(*) FROM team_members WHERE owner_id = $1)
		     + (SELECT COUNT(*) FROM team_invitations WHERE owner_id = $1)
	`
	var seats int64
	if err := d.db.QueryRowContext(ctx, query, ownerID).Scan(&seats); err != nil {
		return 0, fmt.Errorf("failed to count team seats: %w", err)
	}
	return seats, nil
}

// Members lists the members of ownerID's team in join order
func (d *PostgresTeamDirectory) Members(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT member_id FROM team_members WHERE owner_id = $1 ORDER BY joined_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// CachedTeamDirectory fronts another directory with an expiring LRU.
// Concurrent misses for the same identity share one lookup.
type CachedTeamDirectory struct {
	next    TeamDirectory
	cache   *lru.LRU[string, string]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedTeamDirectory creates a cache of at most size entries
func NewCachedTeamDirectory(next TeamDirectory, size int, ttl time.Duration, metrics *observability.Metrics) *CachedTeamDirectory {
	if size < 1 {
		size = 1
	}
	return &CachedTeamDirectory{
		next:    next,
		cache:   lru.NewLRU[string, string](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *CachedTeamDirectory) TeamOwner(ctx context.Context, identityID string) (string, error) {
	if owner, ok := c.cache.Get(identityID); ok {
		c.metrics.RecordTeamCache(true)
		return owner, nil
	}
	c.metrics.RecordTeamCache(false)

	v, err, _ := c.group.Do(identityID, func() (interface{}, error) {
		owner, err := c.next.TeamOwner(ctx, identityID)
		if err != nil {
			return "", err
		}
		c.cache.Add(identityID, owner)
		return owner, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached entry for identityID. Call it after a
// membership change.
func (c *CachedTeamDirectory) Invalidate(identityID string) {
	c.cache.Remove(identityID)
}

func (c *CachedTeamDirectory) registry() (TeamRegistry, error) {
	registry, ok := c.next.(TeamRegistry)
	if !ok {
		return nil, errors.New("team directory does not support membership changes")
	}
	return registry, nil
}

// Invite forwards to the wrapped directory. Invitations do not change
// ownership, so nothing is invalidated.
func (c *CachedTeamDirectory) Invite(ctx context.Context, ownerID, memberID string) (bool, error) {
	registry, err := c.registry()
	if err != nil {
		return false, err
	}
	return registry.Invite(ctx, ownerID, memberID)
}

// Accept forwards to the wrapped directory and drops the member's cached
// entry
func (c *CachedTeamDirectory) Accept(ctx context.Context, ownerID, memberID string) error {
	registry, err := c.registry()
	if err != nil {
		return err
	}
	if err := registry.Accept(ctx, ownerID, memberID); err != nil {
		return err
	}
	c.Invalidate(memberID)
	return nil
}

// RemoveMember forwards to the wrapped directory and drops the member's
// cached entry
func (c *CachedTeamDirectory) RemoveMember(ctx context.Context, ownerID, memberID string) error {
	registry, err := c.registry()
	if err != nil {
		return err
	}
	if err := registry.RemoveMember(ctx, ownerID, memberID); err != nil {
		return err
	}
	c.Invalidate(memberID)
	return nil
}

func (c *CachedTeamDirectory) Seats(ctx context.Context, ownerID string) (int64, error) {
	registry, err := c.registry()
	if err != nil {
		return 0, err
	}
	return registry.Seats(ctx, ownerID)
}
