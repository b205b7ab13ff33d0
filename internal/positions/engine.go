// Package positions implements the position accounting engine: creation,
// modification, swap accrual, withdrawal, termination, transfer and
// permission changes.
//
// Each mutation is guarded by the ledger ordinal of the last event applied to
// the position, so re-delivering an event is a no-op. The position itself is
// saved last; everything it references is written first and is idempotent.
package positions

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"dca-indexer/internal/actions"
	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/pairs"
	"dca-indexer/internal/permissions"
	"dca-indexer/internal/storage"
	"dca-indexer/internal/tokens"
)

// Engine applies position events to storage.
type Engine struct {
	positions   *storage.Repository[domain.Position]
	epochs      *storage.Repository[domain.PositionEpoch]
	tokens      *tokens.Registry
	pairs       *pairs.Service
	permissions *permissions.Manager
	actions     *actions.Log
	logger      logrus.FieldLogger
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store       storage.EntityStore
	Tokens      *tokens.Registry
	Pairs       *pairs.Service
	Permissions *permissions.Manager
	Actions     *actions.Log
	Logger      logrus.FieldLogger
}

// NewEngine creates a position engine.
func NewEngine(d Deps) *Engine {
	return &Engine{
		positions:   storage.NewRepository[domain.Position](d.Store, storage.KindPosition),
		epochs:      storage.NewRepository[domain.PositionEpoch](d.Store, storage.KindPositionEpoch),
		tokens:      d.Tokens,
		pairs:       d.Pairs,
		permissions: d.Permissions,
		actions:     d.Actions,
		logger:      logging.Component(d.Logger, "positions"),
	}
}

// CreateInput describes a deposit.
type CreateInput struct {
	PositionID   string
	Owner        string
	From         string
	To           string
	SwapInterval uint32
	Rate         *big.Int
	StartingSwap uint32
	LastSwap     uint32
	Permissions  []domain.PermissionGrant
}

// ModifyInput describes new position parameters.
type ModifyInput struct {
	PositionID   string
	Rate         *big.Int
	StartingSwap uint32
	LastSwap     uint32
}

// Get returns a position that must already exist.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Position, error) {
	pos, err := e.positions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("position %s: %w", id, domain.ErrSequencing)
	}
	return pos, err
}

// Find returns a position, or nil if it was never created.
func (e *Engine) Find(ctx context.Context, id string) (*domain.Position, error) {
	pos, _, err := e.positions.Find(ctx, id)
	return pos, err
}

// Create opens a position from a deposit. A position that already exists is
// returned as is.
func (e *Engine) Create(ctx context.Context, in CreateInput, tx *domain.Transaction) (*domain.Position, error) {
	if existing, err := e.Find(ctx, in.PositionID); err != nil || existing != nil {
		if existing != nil {
			observability.RecordReplaySkip("create")
		}
		return existing, err
	}

	from, err := e.tokens.GetOrCreate(ctx, in.From, true, tx)
	if err != nil {
		return nil, err
	}
	to, err := e.tokens.GetOrCreate(ctx, in.To, true, tx)
	if err != nil {
		return nil, err
	}
	pair, err := e.pairs.GetOrCreate(ctx, from.ID, to.ID, tx)
	if err != nil {
		return nil, err
	}

	remaining, err := remainingSwaps(in.StartingSwap, in.LastSwap)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", in.PositionID, err)
	}
	rate := new(big.Int).Set(in.Rate)
	liquidity := new(big.Int).Mul(rate, remaining)

	pos := &domain.Position{
		ID:                      in.PositionID,
		Owner:                   ids.Token(in.Owner),
		From:                    from.ID,
		To:                      to.ID,
		Pair:                    pair.ID,
		SwapInterval:            in.SwapInterval,
		Status:                  domain.PositionActive,
		Rate:                    rate,
		StartingSwap:            in.StartingSwap,
		LastSwap:                in.LastSwap,
		RemainingSwaps:          remaining,
		RemainingLiquidity:      liquidity,
		SwappedBeforeModified:   new(big.Int),
		WithdrawnBeforeModified: new(big.Int),
		RatioAccumulator:        new(big.Int),
		ToWithdraw:              new(big.Int),
		Withdrawn:               new(big.Int),
		TotalSwapped:            new(big.Int),
		TotalWithdrawn:          new(big.Int),
		TotalDeposited:          new(big.Int).Set(liquidity),
		TotalSwaps:              new(big.Int).Set(remaining),
		TotalExecutedSwaps:      new(big.Int),
		Applied:                 tx.Ordinal(),
		Transaction:             tx.ID,
		CreatedAtBlock:          tx.BlockNumber,
		CreatedAtTimestamp:      tx.Timestamp,
	}
	if remaining.Sign() == 0 {
		pos.Status = domain.PositionCompleted
	}

	if err := e.openEpoch(ctx, pos, tx); err != nil {
		return nil, err
	}
	pos.Permissions, err = e.permissions.CreateFromGrants(ctx, pos.ID, pos.CurrentEpoch, in.Permissions)
	if err != nil {
		return nil, err
	}
	if pos.Status == domain.PositionActive {
		if _, err := e.pairs.AddActivePosition(ctx, pos); err != nil {
			return nil, err
		}
	}
	if _, err := e.actions.Created(ctx, pos, tx); err != nil {
		return nil, err
	}
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}

	observability.RecordPositionCreated()
	e.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"pair":     pos.Pair,
		"interval": pos.SwapInterval,
		"rate":     pos.Rate.String(),
		"swaps":    remaining.String(),
	}).Debug("position created")
	return pos, nil
}

// Modify changes rate and/or remaining swaps. The swapped balance carries into
// a new accounting epoch.
func (e *Engine) Modify(ctx context.Context, in ModifyInput, tx *domain.Transaction) (*domain.Position, error) {
	pos, err := e.Get(ctx, in.PositionID)
	if err != nil {
		return nil, err
	}
	if !e.fresh(pos, tx, "modify") {
		return pos, nil
	}
	if pos.IsTerminated() {
		return nil, fmt.Errorf("modify terminated position %s: %w", pos.ID, domain.ErrSequencing)
	}

	remaining, err := remainingSwaps(in.StartingSwap, in.LastSwap)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.ID, err)
	}
	oldRate := pos.Rate
	oldRemaining := pos.RemainingSwaps
	oldLiquidity := pos.RemainingLiquidity

	pos.SwappedBeforeModified = new(big.Int).Set(pos.ToWithdraw)
	pos.WithdrawnBeforeModified = new(big.Int).Set(pos.Withdrawn)
	pos.RatioAccumulator = new(big.Int)

	pos.Rate = new(big.Int).Set(in.Rate)
	pos.StartingSwap = in.StartingSwap
	pos.LastSwap = in.LastSwap
	pos.RemainingSwaps = remaining
	pos.RemainingLiquidity = new(big.Int).Mul(pos.Rate, remaining)

	deposited, err := subChecked(pos.TotalDeposited, oldLiquidity, "totalDeposited")
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.ID, err)
	}
	pos.TotalDeposited = deposited.Add(deposited, pos.RemainingLiquidity)
	swaps, err := subChecked(pos.TotalSwaps, oldRemaining, "totalSwaps")
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.ID, err)
	}
	pos.TotalSwaps = swaps.Add(swaps, remaining)

	if err := e.openEpoch(ctx, pos, tx); err != nil {
		return nil, err
	}
	pos.Permissions, err = e.permissions.Duplicate(ctx, pos.ID, pos.CurrentEpoch, pos.Permissions)
	if err != nil {
		return nil, err
	}

	wasActive := pos.Status == domain.PositionActive
	if remaining.Sign() == 0 {
		pos.Status = domain.PositionCompleted
		if _, err := e.pairs.RemoveActivePosition(ctx, pos); err != nil {
			return nil, err
		}
	} else {
		pos.Status = domain.PositionActive
		if _, err := e.pairs.AddActivePosition(ctx, pos); err != nil {
			return nil, err
		}
	}

	if _, err := e.actions.Modified(ctx, pos, oldRate, oldRemaining, tx); err != nil {
		return nil, err
	}
	pos.Applied = tx.Ordinal()
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}
	if wasActive && pos.Status == domain.PositionCompleted {
		observability.RecordPositionCompleted()
	}
	return pos, nil
}

// RegisterSwap accrues one pair swap into a position. Positions that are not
// active, or whose interval the swap did not execute, are left untouched.
// A position reaching zero remaining swaps completes and leaves pair; the
// caller saves pair.
func (e *Engine) RegisterSwap(ctx context.Context, positionID string, pair *domain.Pair, swap *domain.PairSwap, tx *domain.Transaction) (*domain.Position, error) {
	pos, err := e.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status != domain.PositionActive {
		// Stale entry left by an interrupted swap.
		if _, err := pair.RemoveActivePosition(pos.ID, pos.SwapInterval); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if !containsInterval(swap.Intervals, pos.SwapInterval) {
		return nil, nil
	}
	if !e.fresh(pos, tx, "swap") {
		return nil, nil
	}

	from, err := e.tokens.Get(ctx, pos.From)
	if err != nil {
		return nil, err
	}
	ratio := swap.RatioFor(pair, pos.From)
	if ratio == nil || ratio.Sign() < 0 {
		return nil, fmt.Errorf("pair swap %s ratio for %s: %w", swap.ID, pos.From, domain.ErrInvariantViolation)
	}

	before := pos.EpochSwapped(from.Magnitude)
	pos.RatioAccumulator = new(big.Int).Add(pos.RatioAccumulator, ratio)
	after := pos.EpochSwapped(from.Magnitude)
	delta := new(big.Int).Sub(after, before)

	epochWithdrawn := new(big.Int).Sub(pos.Withdrawn, pos.WithdrawnBeforeModified)
	toWithdraw, err := subChecked(after, epochWithdrawn, "toWithdraw")
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.ID, err)
	}
	remaining, err := subChecked(pos.RemainingSwaps, big.NewInt(1), "remainingSwaps")
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.ID, err)
	}
	liquidity, err := subChecked(pos.RemainingLiquidity, pos.Rate, "remainingLiquidity")
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", pos.ID, err)
	}

	pos.ToWithdraw = toWithdraw
	pos.RemainingSwaps = remaining
	pos.RemainingLiquidity = liquidity
	pos.TotalSwapped = new(big.Int).Add(pos.TotalSwapped, delta)
	pos.TotalExecutedSwaps = new(big.Int).Add(pos.TotalExecutedSwaps, big.NewInt(1))
	if remaining.Sign() == 0 {
		pos.Status = domain.PositionCompleted
		if _, err := pair.RemoveActivePosition(pos.ID, pos.SwapInterval); err != nil {
			return nil, err
		}
	}

	to, err := e.tokens.Get(ctx, pos.To)
	if err != nil {
		return nil, err
	}
	underlying, err := e.tokens.TransformSharesToUnderlying(ctx, to, delta, tx.BlockNumber)
	if err != nil {
		return nil, err
	}
	if _, err := e.actions.Swapped(ctx, pos, swap, ratio, delta, underlying, tx); err != nil {
		return nil, err
	}
	pos.Applied = tx.Ordinal()
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}

	observability.RecordPositionSwap()
	if pos.Status == domain.PositionCompleted {
		observability.RecordPositionCompleted()
	}
	return pos, nil
}

// Withdraw moves the whole swapped balance out of a position. reported is the
// amount the event claims, if any; a mismatch is logged, never trusted.
// Withdrawing nothing leaves the position and action log untouched.
func (e *Engine) Withdraw(ctx context.Context, positionID, recipient string, reported *big.Int, tx *domain.Transaction) (*domain.Position, error) {
	pos, err := e.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if !e.fresh(pos, tx, "withdraw") {
		return pos, nil
	}
	if pos.IsTerminated() {
		return pos, nil
	}

	amount := new(big.Int).Set(pos.ToWithdraw)
	if reported != nil && reported.Cmp(amount) != 0 {
		e.logger.WithFields(logrus.Fields{
			"position": pos.ID,
			"tx":       tx.ID,
			"computed": amount.String(),
			"reported": reported.String(),
		}).Warn("withdrawn amount differs from event")
	}
	if amount.Sign() == 0 {
		return pos, nil
	}

	pos.Withdrawn = new(big.Int).Add(pos.Withdrawn, amount)
	pos.TotalWithdrawn = new(big.Int).Add(pos.TotalWithdrawn, amount)
	pos.ToWithdraw = new(big.Int)

	to, err := e.tokens.Get(ctx, pos.To)
	if err != nil {
		return nil, err
	}
	underlying, err := e.tokens.TransformSharesToUnderlying(ctx, to, amount, tx.BlockNumber)
	if err != nil {
		return nil, err
	}
	if _, err := e.actions.Withdrew(ctx, pos, amount, underlying, ids.Token(recipient), tx); err != nil {
		return nil, err
	}
	pos.Applied = tx.Ordinal()
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// Terminate closes a position, returning its unswapped liquidity and flushing
// the swapped balance into withdrawn.
func (e *Engine) Terminate(ctx context.Context, positionID string, tx *domain.Transaction) (*domain.Position, error) {
	pos, err := e.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.IsTerminated() || !e.fresh(pos, tx, "terminate") {
		return pos, nil
	}

	swapped := new(big.Int).Set(pos.ToWithdraw)
	unswapped := new(big.Int).Set(pos.RemainingLiquidity)

	if _, err := e.pairs.RemoveActivePosition(ctx, pos); err != nil {
		return nil, err
	}

	pos.Withdrawn = new(big.Int).Add(pos.Withdrawn, swapped)
	pos.ToWithdraw = new(big.Int)
	pos.Rate = new(big.Int)
	pos.RemainingSwaps = new(big.Int)
	pos.RemainingLiquidity = new(big.Int)
	pos.Status = domain.PositionTerminated
	pos.TerminatedAtBlock = tx.BlockNumber
	pos.TerminatedAtTimestamp = tx.Timestamp

	if _, err := e.actions.Terminated(ctx, pos, swapped, unswapped, tx); err != nil {
		return nil, err
	}
	pos.Applied = tx.Ordinal()
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}
	observability.RecordPositionTerminated()
	return pos, nil
}

// Transfer hands a position to a new owner and wipes its operator grants.
// Transfers of unknown positions are ignored.
func (e *Engine) Transfer(ctx context.Context, positionID, newOwner string, tx *domain.Transaction) (*domain.Position, error) {
	pos, err := e.Find(ctx, positionID)
	if err != nil || pos == nil {
		return nil, err
	}
	if !e.fresh(pos, tx, "transfer") {
		return pos, nil
	}

	previous := pos.Owner
	if err := e.permissions.DeleteAll(ctx, pos.Permissions); err != nil {
		return nil, err
	}
	pos.Owner = ids.Token(newOwner)
	pos.Permissions = nil

	if _, err := e.actions.Transfered(ctx, pos, previous, pos.Owner, tx); err != nil {
		return nil, err
	}
	pos.Applied = tx.Ordinal()
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// ModifyPermissions applies an operator diff to the current epoch's grants.
// An empty permission list in diff revokes that operator.
func (e *Engine) ModifyPermissions(ctx context.Context, positionID string, diff []domain.PermissionGrant, tx *domain.Transaction) (*domain.Position, error) {
	pos, err := e.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if !e.fresh(pos, tx, "permissions") {
		return pos, nil
	}

	next, touched, err := e.permissions.Modify(ctx, pos.ID, pos.CurrentEpoch, pos.Permissions, diff)
	if err != nil {
		return nil, err
	}
	pos.Permissions = next

	if _, err := e.actions.PermissionsModified(ctx, pos, touched, tx); err != nil {
		return nil, err
	}
	pos.Applied = tx.Ordinal()
	if err := e.save(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// fresh reports whether tx comes after the last event applied to pos.
func (e *Engine) fresh(pos *domain.Position, tx *domain.Transaction, op string) bool {
	if tx.Ordinal().After(pos.Applied) {
		return true
	}
	observability.RecordReplaySkip(op)
	e.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"tx":       tx.ID,
		"op":       op,
	}).Debug("event already applied to position")
	return false
}

func (e *Engine) openEpoch(ctx context.Context, pos *domain.Position, tx *domain.Transaction) error {
	id := ids.Epoch(pos.ID, tx.ID)
	if _, _, err := e.epochs.GetOrCreate(ctx, id, func() (*domain.PositionEpoch, error) {
		return &domain.PositionEpoch{
			ID:                      id,
			Position:                pos.ID,
			Rate:                    new(big.Int).Set(pos.Rate),
			StartingSwap:            pos.StartingSwap,
			LastSwap:                pos.LastSwap,
			RemainingSwaps:          new(big.Int).Set(pos.RemainingSwaps),
			SwappedBeforeModified:   new(big.Int).Set(pos.SwappedBeforeModified),
			WithdrawnBeforeModified: new(big.Int).Set(pos.WithdrawnBeforeModified),
			Transaction:             tx.ID,
			CreatedAtBlock:          tx.BlockNumber,
			CreatedAtTimestamp:      tx.Timestamp,
		}, nil
	}); err != nil {
		return err
	}
	pos.CurrentEpoch = id
	return nil
}

func (e *Engine) save(ctx context.Context, pos *domain.Position) error {
	return e.positions.Save(ctx, pos.ID, pos)
}

// remainingSwaps is lastSwap - startingSwap + 1.
func remainingSwaps(startingSwap, lastSwap uint32) (*big.Int, error) {
	n := new(big.Int).SetUint64(uint64(lastSwap))
	n.Sub(n, new(big.Int).SetUint64(uint64(startingSwap)))
	n.Add(n, big.NewInt(1))
	if n.Sign() < 0 {
		return nil, fmt.Errorf("swaps %d..%d: %w", startingSwap, lastSwap, domain.ErrInvariantViolation)
	}
	return n, nil
}

// subChecked returns a-b, failing instead of going negative.
func subChecked(a, b *big.Int, field string) (*big.Int, error) {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return nil, fmt.Errorf("%s would become %s: %w", field, out, domain.ErrInvariantViolation)
	}
	return out, nil
}

func containsInterval(ivs []uint32, iv uint32) bool {
	for _, v := range ivs {
		if v == iv {
			return true
		}
	}
	return false
}
