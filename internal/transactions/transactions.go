// Package transactions deduplicates the ledger context of handled logs.
package transactions

import (
	"context"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/storage"
)

// Service stores Transaction entities.
type Service struct {
	txs *storage.Repository[domain.Transaction]
}

// NewService creates a transaction service over store.
func NewService(store storage.EntityStore) *Service {
	return &Service{txs: storage.NewRepository[domain.Transaction](store, storage.KindTransaction)}
}

// GetOrCreate returns the stored transaction for a log, saving tx on first sight.
// tx.ID is derived from the hash and log index when empty.
func (s *Service) GetOrCreate(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if tx == nil || tx.Hash == "" {
		return nil, storage.ErrInvalidInput
	}
	id := ids.Transaction(tx.Hash, tx.LogIndex)
	stored, _, err := s.txs.GetOrCreate(ctx, id, func() (*domain.Transaction, error) {
		t := *tx
		t.ID = id
		t.Hash = ids.Token(tx.Hash)
		t.From = ids.Token(tx.From)
		t.To = ids.Token(tx.To)
		return &t, nil
	})
	return stored, err
}

// Get returns a stored transaction.
func (s *Service) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.txs.Get(ctx, id)
}
