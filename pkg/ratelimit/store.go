package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WindowState summarises the events of one key inside a window
type WindowState struct {
	Count int
	// Oldest is the earliest event in the window. Zero when Count is 0.
	Oldest time.Time
}

// WindowStore keeps timestamps of accepted submissions per key
type WindowStore interface {
	// Count returns the events for key at or after since
	Count(ctx context.Context, key string, since time.Time) (WindowState, error)
	Record(ctx context.Context, key string, at time.Time) error
	// Prune drops every event before the cutoff and reports how many went
	Prune(ctx context.Context, before time.Time) (int, error)
}

// MemoryWindowStore keeps windows in process memory. Limits are per
// process: two instances behind a load balancer each allow Max.
type MemoryWindowStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryWindowStore creates an empty store
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{events: make(map[string][]time.Time)}
}

func (s *MemoryWindowStore) Count(_ context.Context, key string, since time.Time) (WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[key]
	i := sort.Search(len(events), func(i int) bool { return !events[i].Before(since) })
	if i == len(events) {
		return WindowState{}, nil
	}
	return WindowState{Count: len(events) - i, Oldest: events[i]}, nil
}

func (s *MemoryWindowStore) Record(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[key]
	i := sort.Search(len(events), func(i int) bool { return events[i].After(at) })
	events = append(events, time.Time{})
	copy(events[i+1:], events[i:])
	events[i] = at
	s.events[key] = events
	return nil
}

func (s *MemoryWindowStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, events := range s.events {
		i := sort.Search(len(events), func(i int) bool { return !events[i].Before(before) })
		removed += i
		if i == len(events) {
			delete(s.events, key)
			continue
		}
		s.events[key] = append([]time.Time(nil), events[i:]...)
	}
	return removed, nil
}
