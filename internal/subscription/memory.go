package subscription

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and local development.
// It enforces the same last-updated ordering invariant as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get returns the record for a user, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, userID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Upsert applies the record unless the stored one is as new or newer.
func (s *MemoryStore) Upsert(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.records[rec.UserID]; ok && !current.LastUpdated.Before(rec.LastUpdated) {
		return false, nil
	}
	s.records[rec.UserID] = rec
	return true, nil
}
