package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/quota"
)

// IdentityStore persists identities. Identities are never hard-deleted;
// SetActive(false) disables them.
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) error
	Get(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetPlan(ctx context.Context, id string, plan quota.PlanTier) error
	SetTeamOwner(ctx context.Context, id, teamOwnerID string) error
}

// MemoryIdentityStore keeps identities in process memory.
type MemoryIdentityStore struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string
}

// NewMemoryIdentityStore creates an empty in-memory identity store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create implements IdentityStore.
func (s *MemoryIdentityStore) Create(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(identity.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrEmailTaken
	}

	cp := *identity
	cp.Email = email
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	s.byID[cp.ID] = &cp
	s.byEmail[email] = cp.ID
	return nil
}

// Get implements IdentityStore.
func (s *MemoryIdentityStore) Get(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

// GetByEmail implements IdentityStore.
func (s *MemoryIdentityStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return s.Get(ctx, id)
}

// SetActive implements IdentityStore.
func (s *MemoryIdentityStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(id, func(i *Identity) { i.IsActive = active })
}

// SetPlan implements IdentityStore.
func (s *MemoryIdentityStore) SetPlan(ctx context.Context, id string, plan quota.PlanTier) error {
	return s.update(id, func(i *Identity) { i.Plan = plan })
}

// SetTeamOwner implements IdentityStore.
func (s *MemoryIdentityStore) SetTeamOwner(ctx context.Context, id, teamOwnerID string) error {
	return s.update(id, func(i *Identity) { i.TeamOwnerID = teamOwnerID })
}

func (s *MemoryIdentityStore) update(id string, fn func(*Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	fn(identity)
	identity.UpdatedAt = time.Now().UTC()
	return nil
}
