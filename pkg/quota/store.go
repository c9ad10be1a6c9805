package quota

import (
	"context"
	"errors"
	"math"
	"sync"
)

// ErrLimitReached is returned by UsageStore.Add when the increment would
// take usage past the limit. Usage is left unchanged.
var ErrLimitReached = errors.New("quota: limit reached")

// UsageStore holds running usage counters per account and kind.
//
// Add must be atomic with respect to concurrent Adds for the same account
// and kind: the check against limit and the increment happen as one step.
type UsageStore interface {
	// Usage returns the current counter, zero when none is recorded.
	Usage(ctx context.Context, accountID string, kind Kind) (int64, error)

	// Add increments the counter by n if the result stays within limit and
	// returns the new value. When it would not, Add returns the unchanged
	// current value and ErrLimitReached.
	Add(ctx context.Context, accountID string, kind Kind, n int64, limit Limit) (int64, error)

	// Sub decrements the counter by n, never below zero.
	Sub(ctx context.Context, accountID string, kind Kind, n int64) error
}

// MemoryUsageStore keeps counters in process memory.
type MemoryUsageStore struct {
	mu     sync.Mutex
	counts map[string]map[Kind]int64
}

// NewMemoryUsageStore creates an empty in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counts: make(map[string]map[Kind]int64)}
}

// Usage implements UsageStore.
func (s *MemoryUsageStore) Usage(ctx context.Context, accountID string, kind Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[accountID][kind], nil
}

// Add implements UsageStore.
func (s *MemoryUsageStore) Add(ctx context.Context, accountID string, kind Kind, n int64, limit Limit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind, ok := s.counts[accountID]
	if !ok {
		byKind = make(map[Kind]int64)
		s.counts[accountID] = byKind
	}
	current := byKind[kind]
	if !limit.Allows(current, n) {
		return current, ErrLimitReached
	}
	byKind[kind] = saturatingAdd(current, n)
	return byKind[kind], nil
}

// saturatingAdd adds non-negative n to current, stopping at math.MaxInt64
func saturatingAdd(current, n int64) int64 {
	if n > math.MaxInt64-current {
		return math.MaxInt64
	}
	return current + n
}

// Sub implements UsageStore.
func (s *MemoryUsageStore) Sub(ctx context.Context, accountID string, kind Kind, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind, ok := s.counts[accountID]
	if !ok {
		return nil
	}
	next := byKind[kind] - n
	if next < 0 {
		next = 0
	}
	byKind[kind] = next
	return nil
}

// Set overwrites a counter. Used to seed usage in tests and imports.
func (s *MemoryUsageStore) Set(accountID string, kind Kind, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind, ok := s.counts[accountID]
	if !ok {
		byKind = make(map[Kind]int64)
		s.counts[accountID] = byKind
	}
	byKind[kind] = value
}
