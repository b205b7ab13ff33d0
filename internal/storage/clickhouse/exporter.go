package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/storage"
)

// Exporter implements storage.AnalyticsExporter on ClickHouse.
// Rows are buffered and written in batches; tables are ReplacingMergeTree,
// so re-delivered ids collapse on merge.
type Exporter struct {
	conn      *Conn
	batchSize int

	mu        sync.Mutex
	actions   []*domain.PositionAction
	pairSwaps []*domain.PairSwap
}

var _ storage.AnalyticsExporter = (*Exporter)(nil)

// NewExporter creates an exporter that flushes every batchSize rows per table.
func NewExporter(conn *Conn, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Exporter{conn: conn, batchSize: batchSize}
}

// ExportAction buffers an action and flushes when the batch is full.
func (e *Exporter) ExportAction(ctx context.Context, action *domain.PositionAction) error {
	e.mu.Lock()
	e.actions = append(e.actions, action)
	full := len(e.actions) >= e.batchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

// ExportPairSwap buffers a pair swap and flushes when the batch is full.
func (e *Exporter) ExportPairSwap(ctx context.Context, swap *domain.PairSwap) error {
	e.mu.Lock()
	e.pairSwaps = append(e.pairSwaps, swap)
	full := len(e.pairSwaps) >= e.batchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	actions, swaps := e.actions, e.pairSwaps
	e.actions, e.pairSwaps = nil, nil
	e.mu.Unlock()

	if err := e.insertActions(ctx, actions); err != nil {
		return err
	}
	return e.insertPairSwaps(ctx, swaps)
}

func (e *Exporter) insertActions(ctx context.Context, actions []*domain.PositionAction) (err error) {
	if len(actions) == 0 {
		return nil
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "insert_actions", time.Since(start).Seconds(), err)
	}(time.Now())

	batch, err := e.conn.PrepareBatch(ctx, `
		INSERT INTO position_actions (
			id, position, action, actor, transaction, block, timestamp,
			rate, swapped, withdrawn, payload
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range actions {
		payload, err := sonnet.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode action %s: %w", a.ID, err)
		}
		err = batch.Append(
			a.ID, a.Position, string(a.Action), a.Actor, a.Transaction,
			a.CreatedAtBlock, a.CreatedAtTimestamp,
			orZero(a.Rate), orZero(a.Swapped), orZero(a.Withdrawn),
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (e *Exporter) insertPairSwaps(ctx context.Context, swaps []*domain.PairSwap) (err error) {
	if len(swaps) == 0 {
		return nil
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "insert_pair_swaps", time.Since(start).Seconds(), err)
	}(time.Now())

	batch, err := e.conn.PrepareBatch(ctx, `
		INSERT INTO pair_swaps (
			id, pair, swapper, ratio_a_to_b, ratio_b_to_a, ratio_a_to_b_fee, ratio_b_to_a_fee,
			fee, fee_rate, intervals, transaction, block, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range swaps {
		err = batch.Append(
			s.ID, s.Pair, s.Swapper,
			orZero(s.RatioAToB), orZero(s.RatioBToA),
			orZero(s.RatioAToBWithFee), orZero(s.RatioBToAWithFee),
			s.Fee, feeRate(s.Fee), s.Intervals, s.Transaction, s.ExecutedAtBlock, s.ExecutedAtTimestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// orZero maps a nil amount to zero for UInt256 columns.
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// feeRate converts a parts-per-million fee to a fraction.
func feeRate(fee uint32) decimal.Decimal {
	return decimal.New(int64(fee), -6)
}
