// Package actions keeps the append-only position action log.
package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/storage"
)

// Log records at most one action per (position, transaction).
type Log struct {
	actions  *storage.Repository[domain.PositionAction]
	exporter storage.AnalyticsExporter
	logger   logrus.FieldLogger
}

// NewLog creates an action log. exporter may be nil.
func NewLog(store storage.EntityStore, exporter storage.AnalyticsExporter, logger logrus.FieldLogger) *Log {
	return &Log{
		actions:  storage.NewRepository[domain.PositionAction](store, storage.KindPositionAction),
		exporter: exporter,
		logger:   logging.Component(logger, "actions"),
	}
}

// Get returns a recorded action.
func (l *Log) Get(ctx context.Context, positionID, transactionID string) (*domain.PositionAction, error) {
	return l.actions.Get(ctx, ids.Action(positionID, transactionID))
}

// Record stores an action of kind for a position, letting fill set the
// kind-specific fields. An action already recorded for the transaction is
// returned unchanged.
func (l *Log) Record(ctx context.Context, kind domain.ActionKind, positionID string, tx *domain.Transaction, fill func(*domain.PositionAction)) (*domain.PositionAction, error) {
	id := ids.Action(positionID, tx.ID)
	action, created, err := l.actions.GetOrCreate(ctx, id, func() (*domain.PositionAction, error) {
		a := &domain.PositionAction{
			ID:                 id,
			Position:           positionID,
			Action:             kind,
			Actor:              tx.From,
			Transaction:        tx.ID,
			CreatedAtBlock:     tx.BlockNumber,
			CreatedAtTimestamp: tx.Timestamp,
		}
		if fill != nil {
			fill(a)
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record %s action on position %s: %w", kind, positionID, err)
	}
	if !created {
		if action.Action != kind {
			l.logger.WithFields(logrus.Fields{
				"action":   id,
				"recorded": action.Action,
				"kind":     kind,
			}).Warn("transaction already recorded a different action on position")
		}
		return action, nil
	}

	observability.RecordAction(kind.String())
	if l.exporter != nil {
		if err := l.exporter.ExportAction(ctx, action); err != nil {
			return nil, fmt.Errorf("export action %s: %w", id, err)
		}
	}
	return action, nil
}

// Created records a position creation.
func (l *Log) Created(ctx context.Context, pos *domain.Position, tx *domain.Transaction) (*domain.PositionAction, error) {
	return l.Record(ctx, domain.ActionCreated, pos.ID, tx, func(a *domain.PositionAction) {
		a.Rate = clone(pos.Rate)
		a.RemainingSwaps = clone(pos.RemainingSwaps)
		a.PermissionsCreated = append([]string(nil), pos.Permissions...)
	})
}

// Modified records a rate and/or duration change. The kind is derived from
// which of the two changed; an unchanged modify records MODIFIED_RATE.
func (l *Log) Modified(ctx context.Context, pos *domain.Position, oldRate, oldRemainingSwaps *big.Int, tx *domain.Transaction) (*domain.PositionAction, error) {
	kind := ModifyKind(oldRate, pos.Rate, oldRemainingSwaps, pos.RemainingSwaps)
	return l.Record(ctx, kind, pos.ID, tx, func(a *domain.PositionAction) {
		a.Rate = clone(pos.Rate)
		a.OldRate = clone(oldRate)
		a.RemainingSwaps = clone(pos.RemainingSwaps)
		a.OldRemainingSwaps = clone(oldRemainingSwaps)
	})
}

// ModifyKind classifies a modify by what changed.
func ModifyKind(oldRate, newRate, oldSwaps, newSwaps *big.Int) domain.ActionKind {
	rateChanged := oldRate.Cmp(newRate) != 0
	durationChanged := oldSwaps.Cmp(newSwaps) != 0
	switch {
	case rateChanged && durationChanged:
		return domain.ActionModifiedRateAndDuration
	case durationChanged:
		return domain.ActionModifiedDuration
	default:
		return domain.ActionModifiedRate
	}
}

// Swapped records one swap execution applied to a position.
func (l *Log) Swapped(ctx context.Context, pos *domain.Position, swap *domain.PairSwap, ratio, swapped *big.Int, underlying []domain.UnderlyingAmount, tx *domain.Transaction) (*domain.PositionAction, error) {
	return l.Record(ctx, domain.ActionSwapped, pos.ID, tx, func(a *domain.PositionAction) {
		a.Rate = clone(pos.Rate)
		a.RemainingSwaps = clone(pos.RemainingSwaps)
		a.Ratio = clone(ratio)
		a.Swapped = clone(swapped)
		a.PairSwap = swap.ID
		a.SwappedUnderlying = underlying
	})
}

// Withdrew records a withdrawal of swapped funds.
func (l *Log) Withdrew(ctx context.Context, pos *domain.Position, withdrawn *big.Int, underlying []domain.UnderlyingAmount, recipient string, tx *domain.Transaction) (*domain.PositionAction, error) {
	return l.Record(ctx, domain.ActionWithdrew, pos.ID, tx, func(a *domain.PositionAction) {
		a.Withdrawn = clone(withdrawn)
		a.WithdrawnUnderlying = underlying
		a.Recipient = recipient
	})
}

// Terminated records a position being closed.
func (l *Log) Terminated(ctx context.Context, pos *domain.Position, withdrawnSwapped, withdrawnRemaining *big.Int, tx *domain.Transaction) (*domain.PositionAction, error) {
	return l.Record(ctx, domain.ActionTerminated, pos.ID, tx, func(a *domain.PositionAction) {
		a.WithdrawnSwapped = clone(withdrawnSwapped)
		a.WithdrawnRemaining = clone(withdrawnRemaining)
	})
}

// Transfered records an ownership change.
func (l *Log) Transfered(ctx context.Context, pos *domain.Position, from, to string, tx *domain.Transaction) (*domain.PositionAction, error) {
	return l.Record(ctx, domain.ActionTransfered, pos.ID, tx, func(a *domain.PositionAction) {
		a.From = from
		a.To = to
	})
}

// PermissionsModified records the operator grants a transaction touched.
func (l *Log) PermissionsModified(ctx context.Context, pos *domain.Position, touched []domain.PermissionGrant, tx *domain.Transaction) (*domain.PositionAction, error) {
	return l.Record(ctx, domain.ActionPermissionsModified, pos.ID, tx, func(a *domain.PositionAction) {
		a.PermissionsModified = touched
	})
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
