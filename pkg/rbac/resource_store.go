package rbac

import (
	"context"
	"sync"
	"time"
)

// ResourceStore persists ownership records
type ResourceStore interface {
	Get(ctx context.Context, kind ResourceKind, id string) (*Resource, error)
	Put(ctx context.Context, res *Resource) error
	Delete(ctx context.Context, kind ResourceKind, id string) error
}

type resourceKey struct {
	kind ResourceKind
	id   string
}

// MemoryResourceStore is a process-local ResourceStore
type MemoryResourceStore struct {
	mu        sync.RWMutex
	resources map[resourceKey]Resource
}

// NewMemoryResourceStore creates an empty store
func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{resources: make(map[resourceKey]Resource)}
}

func (s *MemoryResourceStore) Get(_ context.Context, kind ResourceKind, id string) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[resourceKey{kind, id}]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return &res, nil
}

func (s *MemoryResourceStore) Put(_ context.Context, res *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *res
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
		res.CreatedAt = stored.CreatedAt
	}
	s.resources[resourceKey{res.Kind, res.ID}] = stored
	return nil
}

func (s *MemoryResourceStore) Delete(_ context.Context, kind ResourceKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := resourceKey{kind, id}
	if _, ok := s.resources[key]; !ok {
		return ErrResourceNotFound
	}
	delete(s.resources, key)
	return nil
}
