package notes

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory note store used in tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]Note
}

// NewMemoryStore creates an empty in-memory note store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]Note)}
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Note{}
	for _, n := range s.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, noteID string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notes[noteID]
	if !ok || n.UserID != userID {
		return Note{}, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) Create(ctx context.Context, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes[note.ID] = note
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.notes[note.ID]
	if !ok || current.UserID != note.UserID {
		return ErrNotFound
	}
	note.CreatedAt = current.CreatedAt
	s.notes[note.ID] = note
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[noteID]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	delete(s.notes, noteID)
	return nil
}
