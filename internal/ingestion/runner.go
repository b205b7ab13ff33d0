package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dca-indexer/internal/events"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/observability"
	"dca-indexer/internal/storage"
)

// Handler applies one decoded event. indexer.Indexer implements it.
type Handler interface {
	Handle(ctx context.Context, env *events.Envelope) error
}

// Runner feeds raw logs, in ledger order, through the decoder into the
// handler and persists progress after every log.
type Runner struct {
	name          string
	source        LogSource
	decoder       *events.Decoder
	handler       Handler
	cursors       storage.CursorStore
	sinks         []Sink
	startBlock    uint64
	batchSize     uint64
	confirmations uint64
	pollInterval  time.Duration
	logger        logrus.FieldLogger

	cursor *storage.Cursor
	stats  RunnerStats
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Name          string // cursor name. Default: "hub"
	Source        LogSource
	Decoder       *events.Decoder
	Handler       Handler
	Cursors       storage.CursorStore
	Sinks         []Sink
	StartBlock    uint64        // first block when no cursor is stored
	BatchSize     uint64        // Default: 2000 blocks per eth_getLogs
	Confirmations uint64        // Default: 12 - follow trails the head by this many blocks
	PollInterval  time.Duration // Default: 12s
	Logger        logrus.FieldLogger
}

// RunnerStats counts what the runner did with the logs it saw.
type RunnerStats struct {
	LogsSeen       int
	Handled        int
	SkippedSeen    int // at or before the cursor
	SkippedRemoved int
	SkippedUnknown int
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	name := opts.Name
	if name == "" {
		name = "hub"
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 2000
	}

	confirmations := opts.Confirmations
	if confirmations == 0 {
		confirmations = 12
	}

	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = 12 * time.Second
	}

	return &Runner{
		name:          name,
		source:        opts.Source,
		decoder:       opts.Decoder,
		handler:       opts.Handler,
		cursors:       opts.Cursors,
		sinks:         opts.Sinks,
		startBlock:    opts.StartBlock,
		batchSize:     batchSize,
		confirmations: confirmations,
		pollInterval:  pollInterval,
		logger:        logging.Component(opts.Logger, "runner").WithField("source", name),
	}
}

// Stats returns counters accumulated since the runner was created.
func (r *Runner) Stats() RunnerStats {
	return r.stats
}

// Cursor returns the current progress, loading it on first use.
// Returns nil if nothing was processed yet.
func (r *Runner) Cursor(ctx context.Context) (*storage.Cursor, error) {
	if r.cursor != nil || r.cursors == nil {
		return r.cursor, nil
	}
	c, err := r.cursors.GetCursor(ctx, r.name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	r.cursor = c
	return c, nil
}

// nextBlock is the first block still to scan.
func (r *Runner) nextBlock(ctx context.Context) (uint64, error) {
	c, err := r.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return r.startBlock, nil
	}
	if next := c.NextBlock(); next > r.startBlock {
		return next, nil
	}
	return r.startBlock, nil
}

// Follow polls the source and processes every block once it has the
// configured number of confirmations. It blocks until ctx is cancelled.
func (r *Runner) Follow(ctx context.Context) error {
	r.logger.WithFields(logrus.Fields{
		"confirmations": r.confirmations,
		"poll":          r.pollInterval,
		"batch":         r.batchSize,
	}).Info("following chain head")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if err := r.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) poll(ctx context.Context) error {
	head, err := r.source.Head(ctx)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	observability.UpdateHighestBlock(head)
	if head < r.confirmations {
		return nil
	}
	safe := head - r.confirmations

	next, err := r.nextBlock(ctx)
	if err != nil {
		return err
	}
	if c := r.cursor; c != nil && safe+1 < c.NextBlock() {
		// The node is behind what we already processed, e.g. after a
		// failover to a lagging endpoint. Wait for it to catch up.
		observability.RecordReorgRewind()
		r.logger.WithFields(logrus.Fields{
			"safe":   safe,
			"cursor": c.Block,
		}).Warn("source is behind cursor")
		return nil
	}
	if next > safe {
		return nil
	}
	_, err = r.scan(ctx, next, safe)
	return err
}

// scan processes [from, to] in batches and marks each batch done.
func (r *Runner) scan(ctx context.Context, from, to uint64) (RunnerStats, error) {
	before := r.stats
	for start := from; start <= to; start += r.batchSize {
		end := start + r.batchSize - 1
		if end > to || end < start {
			end = to
		}

		logs, err := r.source.FetchLogs(ctx, start, end)
		if err != nil {
			return r.delta(before), err
		}
		SortLogs(logs)
		for _, raw := range Dedupe(logs) {
			if err := r.Process(ctx, raw); err != nil {
				return r.delta(before), err
			}
		}
		if err := r.markDone(ctx, end); err != nil {
			return r.delta(before), err
		}

		r.logger.WithFields(logrus.Fields{
			"from": start,
			"to":   end,
			"logs": len(logs),
		}).Debug("range processed")
		if end == to {
			break
		}
	}
	return r.delta(before), nil
}

func (r *Runner) delta(before RunnerStats) RunnerStats {
	return RunnerStats{
		LogsSeen:       r.stats.LogsSeen - before.LogsSeen,
		Handled:        r.stats.Handled - before.Handled,
		SkippedSeen:    r.stats.SkippedSeen - before.SkippedSeen,
		SkippedRemoved: r.stats.SkippedRemoved - before.SkippedRemoved,
		SkippedUnknown: r.stats.SkippedUnknown - before.SkippedUnknown,
	}
}

// Consume handles a stream until ctx is cancelled or the stream fails.
// Each delivery is acknowledged after it was handled and the cursor saved.
func (r *Runner) Consume(ctx context.Context, stream StreamSource) error {
	r.logger.Info("consuming stream")
	for {
		d, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := r.Process(ctx, d.Log); err != nil {
			return err
		}
		if d.Ack != nil {
			if err := d.Ack(ctx); err != nil {
				return err
			}
		}
	}
}

// Process decodes and handles one raw log, then advances the cursor.
// Removed logs, logs at or before the cursor and logs of unknown events are
// skipped. Any other failure stops ingestion at this log.
func (r *Runner) Process(ctx context.Context, raw events.RawLog) error {
	r.stats.LogsSeen++
	if raw.Removed {
		r.stats.SkippedRemoved++
		observability.RecordReorgRewind()
		r.logger.WithFields(logrus.Fields{
			"block": raw.BlockNumber,
			"log":   raw.LogIndex,
			"tx":    raw.TxHash,
		}).Warn("skipping removed log")
		return nil
	}

	cursor, err := r.Cursor(ctx)
	if err != nil {
		return err
	}
	if !afterCursor(raw, cursor) {
		r.stats.SkippedSeen++
		return nil
	}

	env, err := r.decoder.Decode(raw)
	switch {
	case errors.Is(err, events.ErrUnknownContract), errors.Is(err, events.ErrUnknownEvent):
		r.stats.SkippedUnknown++
		r.logger.WithFields(logrus.Fields{
			"block":   raw.BlockNumber,
			"log":     raw.LogIndex,
			"address": raw.Address,
		}).WithError(err).Debug("skipping log")
	case err != nil:
		return fmt.Errorf("decode log %d:%d: %w", raw.BlockNumber, raw.LogIndex, err)
	default:
		if err := r.handler.Handle(ctx, env); err != nil {
			return err
		}
		r.stats.Handled++
	}

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, raw); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return r.advance(ctx, raw.BlockNumber, raw.LogIndex)
}

func (r *Runner) markDone(ctx context.Context, block uint64) error {
	if c := r.cursor; c != nil && c.Block > block {
		return nil
	}
	return r.advance(ctx, block, storage.BlockDone)
}

func (r *Runner) advance(ctx context.Context, block uint64, logIndex uint) error {
	next := &storage.Cursor{Name: r.name, Block: block, LogIndex: logIndex}
	if r.cursors != nil {
		if err := r.cursors.SetCursor(ctx, next); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	r.cursor = next
	observability.UpdateCursor(block)
	return nil
}
