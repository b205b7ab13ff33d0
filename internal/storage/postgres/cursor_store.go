package postgres

import (
	"context"
	"fmt"
	"time"

	"dca-indexer/internal/storage"
)

// CursorStore is a PostgreSQL implementation of storage.CursorStore.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new PostgreSQL cursor store.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

var _ storage.CursorStore = (*CursorStore)(nil)

// GetCursor returns the cursor for a source.
func (s *CursorStore) GetCursor(ctx context.Context, name string) (c *storage.Cursor, err error) {
	if name == "" {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("get_cursor", start, err) }(time.Now())

	var (
		block    int64
		logIndex int32
	)
	err = s.pool.QueryRow(ctx, `
		SELECT block, log_index FROM ingestion_cursors WHERE name = $1
	`, name).Scan(&block, &logIndex)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor %s: %w", name, err)
	}

	return &storage.Cursor{Name: name, Block: uint64(block), LogIndex: uint(logIndex)}, nil
}

// SetCursor upserts the cursor for a source.
func (s *CursorStore) SetCursor(ctx context.Context, cursor *storage.Cursor) (err error) {
	if cursor == nil || cursor.Name == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("set_cursor", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ingestion_cursors (name, block, log_index, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE
		SET block = EXCLUDED.block,
		    log_index = EXCLUDED.log_index,
		    updated_at = NOW()
	`, cursor.Name, int64(cursor.Block), int32(cursor.LogIndex))
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", cursor.Name, err)
	}
	return nil
}
