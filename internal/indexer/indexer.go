// Package indexer routes decoded protocol events to the accounting components.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dca-indexer/internal/actions"
	"dca-indexer/internal/chain"
	"dca-indexer/internal/domain"
	"dca-indexer/internal/events"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/pairs"
	"dca-indexer/internal/permissions"
	"dca-indexer/internal/positions"
	"dca-indexer/internal/storage"
	"dca-indexer/internal/tokens"
	"dca-indexer/internal/transactions"
)

// Indexer applies envelopes to the entity store, one at a time.
type Indexer struct {
	txs       *transactions.Service
	tokens    *tokens.Registry
	pairs     *pairs.Service
	positions *positions.Engine
	logger    logrus.FieldLogger
}

// Options contains configuration for creating an Indexer.
type Options struct {
	Store    storage.EntityStore
	Reader   chain.Reader
	Exporter storage.AnalyticsExporter // optional
	Tokens   tokens.Options
	Logger   logrus.FieldLogger
}

// New wires the accounting components over one store.
func New(opts Options) *Indexer {
	logger := logging.Component(opts.Logger, "indexer")
	tokenOpts := opts.Tokens
	if tokenOpts.Logger == nil {
		tokenOpts.Logger = opts.Logger
	}

	registry := tokens.NewRegistry(opts.Store, opts.Reader, tokenOpts)
	pairSvc := pairs.NewService(opts.Store, opts.Exporter, opts.Logger)
	engine := positions.NewEngine(positions.Deps{
		Store:       opts.Store,
		Tokens:      registry,
		Pairs:       pairSvc,
		Permissions: permissions.NewManager(opts.Store),
		Actions:     actions.NewLog(opts.Store, opts.Exporter, opts.Logger),
		Logger:      opts.Logger,
	})

	return &Indexer{
		txs:       transactions.NewService(opts.Store),
		tokens:    registry,
		pairs:     pairSvc,
		positions: engine,
		logger:    logger,
	}
}

// Positions exposes the position engine for read access.
func (ix *Indexer) Positions() *positions.Engine {
	return ix.positions
}

// ResetMemo drops memoized contract reads, e.g. after the store was wiped.
func (ix *Indexer) ResetMemo() {
	ix.tokens.ResetMemo()
}

// Handle applies one envelope. Errors are fatal for the event stream: the
// caller must not advance past env.
func (ix *Indexer) Handle(ctx context.Context, env *events.Envelope) error {
	start := time.Now()
	kind := string(env.Event.Kind())

	err := ix.handle(ctx, env)
	if err != nil {
		observability.RecordEventError(kind, errorType(err))
		ix.logger.WithFields(logrus.Fields{
			"event": env.Name(),
			"block": env.BlockNumber,
			"log":   env.LogIndex,
			"tx":    env.TxHash.Hex(),
		}).WithError(err).Error("event handling failed")
		return fmt.Errorf("handle %s: %w", env, err)
	}

	observability.RecordEventHandled(kind, time.Since(start).Seconds(), env.Timestamp)
	return nil
}

func (ix *Indexer) handle(ctx context.Context, env *events.Envelope) error {
	if tr, ok := env.Event.(*events.Transfer); ok && tr.IsMintOrBurn() {
		return nil
	}

	tx, err := ix.txs.GetOrCreate(ctx, env.Transaction())
	if err != nil {
		return err
	}
	log := ix.logger.WithFields(logrus.Fields{"event": env.Name(), "tx": tx.ID})

	switch ev := env.Event.(type) {
	case *events.Deposited:
		pos, err := ix.positions.Create(ctx, positions.CreateInput{
			PositionID:   ids.Position(ev.PositionID),
			Owner:        ev.Owner.Hex(),
			From:         ev.FromToken.Hex(),
			To:           ev.ToToken.Hex(),
			SwapInterval: ev.SwapInterval,
			Rate:         ev.Rate,
			StartingSwap: ev.StartingSwap,
			LastSwap:     ev.LastSwap,
			Permissions:  ev.Permissions,
		}, tx)
		if err != nil {
			return err
		}
		log.WithField("position", pos.ID).Debug("deposit applied")
		return nil

	case *events.Modified:
		_, err := ix.positions.Modify(ctx, positions.ModifyInput{
			PositionID:   ids.Position(ev.PositionID),
			Rate:         ev.Rate,
			StartingSwap: ev.StartingSwap,
			LastSwap:     ev.LastSwap,
		}, tx)
		return err

	case *events.Terminated:
		_, err := ix.positions.Terminate(ctx, ids.Position(ev.PositionID), tx)
		return err

	case *events.Withdrew:
		_, err := ix.positions.Withdraw(ctx, ids.Position(ev.PositionID), ev.Recipient.Hex(), ev.Amount, tx)
		return err

	case *events.WithdrewMany:
		for _, set := range ev.Positions {
			for _, id := range set.PositionIDs {
				if _, err := ix.positions.Withdraw(ctx, ids.Position(id), ev.Recipient.Hex(), nil, tx); err != nil {
					return err
				}
			}
		}
		return nil

	case *events.Swapped:
		return ix.swapped(ctx, ev, tx)

	case *events.TokensAllowedUpdated:
		for i, token := range ev.Tokens {
			if _, err := ix.tokens.SetAllowed(ctx, token.Hex(), ev.Allowed[i], tx); err != nil {
				return err
			}
		}
		return nil

	case *events.SwapIntervalsAllowed:
		return ix.pairs.SetSwapIntervals(ctx, ev.Intervals, true)

	case *events.SwapIntervalsForbidden:
		return ix.pairs.SetSwapIntervals(ctx, ev.Intervals, false)

	case *events.RoleAdminChanged:
		return ix.pairs.SeedSwapIntervals(ctx)

	case *events.Transfer:
		_, err := ix.positions.Transfer(ctx, ids.Position(ev.PositionID), ev.To.Hex(), tx)
		return err

	case *events.PermissionsModified:
		_, err := ix.positions.ModifyPermissions(ctx, ids.Position(ev.PositionID), ev.Permissions, tx)
		return err

	case *events.Approval, *events.ApprovalForAll:
		return nil

	default:
		return fmt.Errorf("no handler for %s", env.Event.Kind())
	}
}

func (ix *Indexer) swapped(ctx context.Context, ev *events.Swapped, tx *domain.Transaction) error {
	register := func(ctx context.Context, positionID string, pair *domain.Pair, swap *domain.PairSwap) error {
		_, err := ix.positions.RegisterSwap(ctx, positionID, pair, swap, tx)
		return err
	}

	for _, p := range ev.Pairs {
		if _, err := ix.pairs.ApplySwap(ctx, pairs.SwapInput{
			TokenA:             p.TokenA.Hex(),
			TokenB:             p.TokenB.Hex(),
			RatioAToB:          p.RatioAToB,
			RatioBToA:          p.RatioBToA,
			RatioAToBWithFee:   p.RatioAToBWithFee,
			RatioBToAWithFee:   p.RatioBToAWithFee,
			AmountToSwapTokenA: p.TotalAmountToSwapTokenA,
			AmountToSwapTokenB: p.TotalAmountToSwapTokenB,
			Intervals:          p.Intervals,
			Fee:                ev.Fee,
		}, tx, register); err != nil {
			return err
		}
	}
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrSequencing):
		return "sequencing"
	case errors.Is(err, domain.ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, chain.ErrReverted):
		return "reverted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
