package memory

import (
	"context"
	"sync"

	"dca-indexer/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]storage.Cursor
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]storage.Cursor),
	}
}

// GetCursor returns the cursor for a source.
func (s *CursorStore) GetCursor(_ context.Context, name string) (*storage.Cursor, error) {
	if name == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

// SetCursor saves the cursor for a source.
func (s *CursorStore) SetCursor(_ context.Context, cursor *storage.Cursor) error {
	if cursor == nil || cursor.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[cursor.Name] = *cursor
	return nil
}

var _ storage.CursorStore = (*CursorStore)(nil)
