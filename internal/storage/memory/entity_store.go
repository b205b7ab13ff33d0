package memory

import (
	"context"
	"sync"

	"dca-indexer/internal/storage"
)

// EntityStore is an in-memory implementation of storage.EntityStore.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[storage.Kind]map[string][]byte
}

// NewEntityStore creates a new in-memory entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[storage.Kind]map[string][]byte),
	}
}

// Load returns a copy of the encoded entity.
func (s *EntityStore) Load(_ context.Context, kind storage.Kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entities[kind][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Save stores a copy of the encoded entity.
func (s *EntityStore) Save(_ context.Context, kind storage.Kind, id string, data []byte) error {
	if id == "" || data == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.entities[kind]
	if !ok {
		byID = make(map[string][]byte)
		s.entities[kind] = byID
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	byID[id] = stored
	return nil
}

// Remove deletes the entity if present.
func (s *EntityStore) Remove(_ context.Context, kind storage.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities[kind], id)
	return nil
}

// Count returns the number of entities of a kind.
func (s *EntityStore) Count(_ context.Context, kind storage.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entities[kind]), nil
}

// Snapshot returns a deep copy of every stored entity, keyed by kind then id.
func (s *EntityStore) Snapshot() map[storage.Kind]map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[storage.Kind]map[string][]byte, len(s.entities))
	for kind, byID := range s.entities {
		cp := make(map[string][]byte, len(byID))
		for id, data := range byID {
			b := make([]byte, len(data))
			copy(b, data)
			cp[id] = b
		}
		out[kind] = cp
	}
	return out
}

var _ storage.EntityStore = (*EntityStore)(nil)
