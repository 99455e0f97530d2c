// Package memstore provides an in-memory implementation of triage.Journal.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/ambient/internal/triage"
)

// DefaultCapacity bounds how many entries the store keeps.
const DefaultCapacity = 500

// Store holds capture journal entries in memory. Suitable for dev/testing and
// for running without any configured database.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*triage.Entry // capture ID -> entry
	order    []string                 // insertion order, oldest first
	capacity int
}

// New initializes a new in-memory Store. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		entries:  make(map[string]*triage.Entry),
		capacity: capacity,
	}
}

// Get retrieves an entry by its capture ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// Put stores a copy of the entry. Once the store is full the oldest entry is
// evicted.
func (s *Store) Put(_ context.Context, e *triage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if _, ok := s.entries[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.entries[e.ID] = &cp

	for len(s.order) > s.capacity {
		delete(s.entries, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Recent returns copies of up to limit entries, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]*triage.Entry, error) {
	if limit <= 0 {
		return []*triage.Entry{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.Entry, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.entries[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}
