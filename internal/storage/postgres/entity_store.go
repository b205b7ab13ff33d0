package postgres

import (
	"context"
	"fmt"
	"time"

	"dca-indexer/internal/storage"
)

// EntityStore is a PostgreSQL implementation of storage.EntityStore.
// Entities live in a single JSONB table keyed by (kind, id).
type EntityStore struct {
	pool *Pool
}

// NewEntityStore creates a new PostgreSQL entity store.
func NewEntityStore(pool *Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

var _ storage.EntityStore = (*EntityStore)(nil)

// Load returns the encoded entity.
func (s *EntityStore) Load(ctx context.Context, kind storage.Kind, id string) (data []byte, err error) {
	defer func(start time.Time) { observe("load", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT data FROM entities WHERE kind = $1 AND id = $2
	`, string(kind), id)

	if err = row.Scan(&data); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return data, nil
}

// Save upserts the encoded entity.
func (s *EntityStore) Save(ctx context.Context, kind storage.Kind, id string, data []byte) (err error) {
	if id == "" || data == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("save", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (kind, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, id) DO UPDATE
		SET data = EXCLUDED.data,
		    updated_at = NOW()
	`, string(kind), id, data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	return nil
}

// Remove deletes the entity if present.
func (s *EntityStore) Remove(ctx context.Context, kind storage.Kind, id string) (err error) {
	defer func(start time.Time) { observe("remove", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		DELETE FROM entities WHERE kind = $1 AND id = $2
	`, string(kind), id)
	if err != nil {
		return fmt.Errorf("remove %s %s: %w", kind, id, err)
	}
	return nil
}

// Count returns the number of entities of a kind.
func (s *EntityStore) Count(ctx context.Context, kind storage.Kind) (n int, err error) {
	defer func(start time.Time) { observe("count", start, err) }(time.Now())

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM entities WHERE kind = $1
	`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// IDsByField returns ids of entities of a kind whose top-level field equals value.
// Backs relationship lookups such as position -> actions.
func (s *EntityStore) IDsByField(ctx context.Context, kind storage.Kind, field, value string) (ids []string, err error) {
	defer func(start time.Time) { observe("ids_by_field", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id FROM entities
		WHERE kind = $1 AND data->>$2 = $3
		ORDER BY id
	`, string(kind), field, value)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", kind, field, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}
