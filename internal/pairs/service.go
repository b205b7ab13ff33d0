// Package pairs maintains Pair aggregates and records batched swap executions.
package pairs

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/storage"
)

// SwapInput is one pair's share of a batched swap, already normalized across
// protocol versions: the with-fee ratios are what positions accrue.
type SwapInput struct {
	TokenA             string
	TokenB             string
	RatioAToB          *big.Int
	RatioBToA          *big.Int
	RatioAToBWithFee   *big.Int
	RatioBToAWithFee   *big.Int
	AmountToSwapTokenA *big.Int
	AmountToSwapTokenB *big.Int
	Intervals          []uint32
	Fee                uint32
}

// RegisterFunc applies a pair swap to one active position. It may remove the
// position from pair; the pair is saved by the caller.
type RegisterFunc func(ctx context.Context, positionID string, pair *domain.Pair, swap *domain.PairSwap) error

// Service reads and writes pairs and their swap snapshots.
type Service struct {
	pairs         *storage.Repository[domain.Pair]
	swaps         *storage.Repository[domain.PairSwap]
	intervals     *storage.Repository[domain.PairSwapInterval]
	swapIntervals *storage.Repository[domain.SwapInterval]
	exporter      storage.AnalyticsExporter
	logger        logrus.FieldLogger
}

// NewService creates a pair service. exporter may be nil.
func NewService(store storage.EntityStore, exporter storage.AnalyticsExporter, logger logrus.FieldLogger) *Service {
	return &Service{
		pairs:         storage.NewRepository[domain.Pair](store, storage.KindPair),
		swaps:         storage.NewRepository[domain.PairSwap](store, storage.KindPairSwap),
		intervals:     storage.NewRepository[domain.PairSwapInterval](store, storage.KindPairSwapInterval),
		swapIntervals: storage.NewRepository[domain.SwapInterval](store, storage.KindSwapInterval),
		exporter:      exporter,
		logger:        logging.Component(logger, "pairs"),
	}
}

// GetOrCreate returns the pair of two tokens, creating it empty on first reference.
func (s *Service) GetOrCreate(ctx context.Context, tokenA, tokenB string, tx *domain.Transaction) (*domain.Pair, error) {
	id := domain.PairID(tokenA, tokenB)
	pair, created, err := s.pairs.GetOrCreate(ctx, id, func() (*domain.Pair, error) {
		p := domain.NewPair(tokenA, tokenB)
		p.Transaction = tx.ID
		p.CreatedAtBlock = tx.BlockNumber
		p.CreatedAtTimestamp = tx.Timestamp
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.WithField("pair", id).Info("pair created")
	}
	return pair, nil
}

// Get returns a pair that must already exist.
func (s *Service) Get(ctx context.Context, id string) (*domain.Pair, error) {
	pair, err := s.pairs.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("pair %s: %w", id, domain.ErrSequencing)
	}
	return pair, err
}

// Save stores a pair.
func (s *Service) Save(ctx context.Context, pair *domain.Pair) error {
	return s.pairs.Save(ctx, pair.ID, pair)
}

// AddActivePosition marks a position active on its pair. Idempotent.
func (s *Service) AddActivePosition(ctx context.Context, pos *domain.Position) (*domain.Pair, error) {
	pair, err := s.Get(ctx, pos.Pair)
	if err != nil {
		return nil, err
	}
	if !pair.AddActivePosition(pos.ID, pos.SwapInterval) {
		return pair, nil
	}
	if err := s.Save(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// RemoveActivePosition drops a position from its pair's active set. Idempotent.
func (s *Service) RemoveActivePosition(ctx context.Context, pos *domain.Position) (*domain.Pair, error) {
	pair, err := s.Get(ctx, pos.Pair)
	if err != nil {
		return nil, err
	}
	removed, err := pair.RemoveActivePosition(pos.ID, pos.SwapInterval)
	if err != nil {
		return nil, err
	}
	if !removed {
		return pair, nil
	}
	if err := s.Save(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// ApplySwap records one pair's share of a batched swap and applies it to every
// active position through register. Swaps that executed no interval are ignored.
func (s *Service) ApplySwap(ctx context.Context, in SwapInput, tx *domain.Transaction, register RegisterFunc) (*domain.PairSwap, error) {
	if len(in.Intervals) == 0 {
		return nil, nil
	}

	pair, err := s.Get(ctx, domain.PairID(in.TokenA, in.TokenB))
	if err != nil {
		return nil, err
	}

	swap, err := s.recordSwap(ctx, pair, in, tx)
	if err != nil {
		return nil, err
	}

	pair.MarkSwapped(in.Intervals, tx.Timestamp)

	// Snapshot: register may remove completed positions from the pair.
	active := make([]string, len(pair.ActivePositionIDs))
	copy(active, pair.ActivePositionIDs)
	for _, positionID := range active {
		if err := register(ctx, positionID, pair, swap); err != nil {
			return nil, fmt.Errorf("register swap on position %s: %w", positionID, err)
		}
	}

	if err := s.Save(ctx, pair); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"pair":      pair.ID,
		"tx":        tx.ID,
		"intervals": in.Intervals,
		"positions": len(active),
		"remaining": len(pair.ActivePositionIDs),
	}).Debug("pair swapped")
	return swap, nil
}

func (s *Service) recordSwap(ctx context.Context, pair *domain.Pair, in SwapInput, tx *domain.Transaction) (*domain.PairSwap, error) {
	id := ids.PairSwap(pair.ID, tx.ID)

	// Ratios arrive oriented by the event's token order; store them by the pair's.
	aToB, bToA, aToBFee, bToAFee := in.RatioAToB, in.RatioBToA, in.RatioAToBWithFee, in.RatioBToAWithFee
	if ids.Token(in.TokenA) != pair.TokenA {
		aToB, bToA, aToBFee, bToAFee = bToA, aToB, bToAFee, aToBFee
	}
	amountA, amountB := in.AmountToSwapTokenA, in.AmountToSwapTokenB
	if ids.Token(in.TokenA) != pair.TokenA {
		amountA, amountB = amountB, amountA
	}

	swap, created, err := s.swaps.GetOrCreate(ctx, id, func() (*domain.PairSwap, error) {
		return &domain.PairSwap{
			ID:                  id,
			Pair:                pair.ID,
			Swapper:             tx.From,
			RatioAToB:           aToB,
			RatioBToA:           bToA,
			RatioAToBWithFee:    aToBFee,
			RatioBToAWithFee:    bToAFee,
			AmountToSwapTokenA:  amountA,
			AmountToSwapTokenB:  amountB,
			Fee:                 in.Fee,
			Intervals:           in.Intervals,
			Transaction:         tx.ID,
			ExecutedAtBlock:     tx.BlockNumber,
			ExecutedAtTimestamp: tx.Timestamp,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return swap, nil
	}

	for _, iv := range in.Intervals {
		ivID := ids.PairSwapInterval(id, iv)
		if err := s.intervals.Save(ctx, ivID, &domain.PairSwapInterval{
			ID:           ivID,
			Pair:         pair.ID,
			PairSwap:     id,
			SwapInterval: iv,
		}); err != nil {
			return nil, err
		}
	}

	observability.RecordPairSwap()
	if s.exporter != nil {
		if err := s.exporter.ExportPairSwap(ctx, swap); err != nil {
			return nil, fmt.Errorf("export pair swap %s: %w", id, err)
		}
	}
	return swap, nil
}
