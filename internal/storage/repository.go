package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sugawarayuuta/sonnet"
)

// Repository is a typed view over one kind of an EntityStore.
// Entities are encoded as JSON.
type Repository[T any] struct {
	store EntityStore
	kind  Kind
}

// NewRepository creates a repository for one entity kind.
func NewRepository[T any](store EntityStore, kind Kind) *Repository[T] {
	return &Repository[T]{store: store, kind: kind}
}

// Kind returns the entity kind the repository manages.
func (r *Repository[T]) Kind() Kind {
	return r.kind
}

// Get loads and decodes an entity.
// Returns ErrNotFound if absent.
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	data, err := r.store.Load(ctx, r.kind, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := sonnet.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", r.kind, id, err)
	}
	return &v, nil
}

// Find is Get with absence reported as (nil, false, nil).
func (r *Repository[T]) Find(ctx context.Context, id string) (*T, bool, error) {
	v, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Save encodes and stores an entity.
func (r *Repository[T]) Save(ctx context.Context, id string, v *T) error {
	if v == nil || id == "" {
		return ErrInvalidInput
	}
	data, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.kind, id, err)
	}
	if err := r.store.Save(ctx, r.kind, id, data); err != nil {
		return fmt.Errorf("save %s %s: %w", r.kind, id, err)
	}
	return nil
}

// Remove deletes an entity.
func (r *Repository[T]) Remove(ctx context.Context, id string) error {
	if err := r.store.Remove(ctx, r.kind, id); err != nil {
		return fmt.Errorf("remove %s %s: %w", r.kind, id, err)
	}
	return nil
}

// GetOrCreate returns the stored entity, or saves and returns the result of create.
// created reports which happened.
func (r *Repository[T]) GetOrCreate(ctx context.Context, id string, create func() (*T, error)) (v *T, created bool, err error) {
	v, found, err := r.Find(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if found {
		return v, false, nil
	}
	v, err = create()
	if err != nil {
		return nil, false, err
	}
	if err := r.Save(ctx, id, v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}
