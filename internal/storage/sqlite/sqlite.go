// Package sqlite provides a single-file entity store for local runs and replays.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"dca-indexer/internal/storage"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(kind, id)
	);`,
	`CREATE TABLE IF NOT EXISTS ingestion_cursors (
		name TEXT PRIMARY KEY,
		block INTEGER NOT NULL,
		log_index INTEGER NOT NULL
	);`,
}

// Store implements storage.EntityStore and storage.CursorStore on SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ storage.EntityStore = (*Store)(nil)
	_ storage.CursorStore = (*Store)(nil)
)

// Open opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the encoded entity.
func (s *Store) Load(ctx context.Context, kind storage.Kind, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE kind = ? AND id = ?`, string(kind), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return data, nil
}

// Save upserts the encoded entity.
func (s *Store) Save(ctx context.Context, kind storage.Kind, id string, data []byte) error {
	if id == "" || data == nil {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(kind, id) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, string(kind), id, data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	return nil
}

// Remove deletes the entity if present.
func (s *Store) Remove(ctx context.Context, kind storage.Kind, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id,
	); err != nil {
		return fmt.Errorf("remove %s %s: %w", kind, id, err)
	}
	return nil
}

// Count returns the number of entities of a kind.
func (s *Store) Count(ctx context.Context, kind storage.Kind) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE kind = ?`, string(kind),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// GetCursor returns the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, name string) (*storage.Cursor, error) {
	if name == "" {
		return nil, storage.ErrInvalidInput
	}
	c := storage.Cursor{Name: name}
	var block, logIndex int64
	err := s.db.QueryRowContext(ctx,
		`SELECT block, log_index FROM ingestion_cursors WHERE name = ?`, name,
	).Scan(&block, &logIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", name, err)
	}
	c.Block, c.LogIndex = uint64(block), uint(logIndex)
	return &c, nil
}

// SetCursor upserts the cursor for a source.
func (s *Store) SetCursor(ctx context.Context, cursor *storage.Cursor) error {
	if cursor == nil || cursor.Name == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_cursors (name, block, log_index) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET block = excluded.block, log_index = excluded.log_index
	`, cursor.Name, int64(cursor.Block), int64(cursor.LogIndex))
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", cursor.Name, err)
	}
	return nil
}
