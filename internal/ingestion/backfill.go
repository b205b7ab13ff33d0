package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	From     uint64
	To       uint64
	Stats    RunnerStats
	Duration time.Duration
}

// Backfill processes blocks [from, to], resuming after the stored cursor if
// it is already inside the range. Pass to = 0 to stop at the confirmed head.
func (r *Runner) Backfill(ctx context.Context, from, to uint64) (*BackfillResult, error) {
	start := time.Now()

	if to == 0 {
		head, err := r.source.Head(ctx)
		if err != nil {
			return nil, fmt.Errorf("head: %w", err)
		}
		if head < r.confirmations {
			return &BackfillResult{From: from}, nil
		}
		to = head - r.confirmations
	}
	if from == 0 {
		from = r.startBlock
	}

	next, err := r.nextBlock(ctx)
	if err != nil {
		return nil, err
	}
	if next > from {
		from = next
	}
	result := &BackfillResult{From: from, To: to}
	if from > to {
		r.logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("nothing to backfill")
		return result, nil
	}

	r.logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("starting backfill")
	stats, err := r.scan(ctx, from, to)
	result.Stats = stats
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("backfill [%d, %d]: %w", from, to, err)
	}

	r.logger.WithFields(logrus.Fields{
		"handled":  stats.Handled,
		"skipped":  stats.SkippedSeen + stats.SkippedUnknown + stats.SkippedRemoved,
		"duration": result.Duration,
	}).Info("backfill complete")
	return result, nil
}
