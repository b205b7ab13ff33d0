// Package replay re-runs recorded raw logs through the indexer.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"

	"dca-indexer/internal/events"
	"dca-indexer/internal/ingestion"
	"dca-indexer/internal/logging"
	"dca-indexer/internal/storage"
	"dca-indexer/internal/storage/memory"
)

// ErrInvalidLine is returned when a recording line is not a raw log.
var ErrInvalidLine = errors.New("invalid recording line")

const maxLineSize = 4 << 20

// Load reads a JSONL recording. Blank lines are ignored.
func Load(r io.Reader) ([]events.RawLog, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var logs []events.RawLog
	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		var raw events.RawLog
		if err := sonnet.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w %d: %v", ErrInvalidLine, line, err)
		}
		logs = append(logs, raw)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return logs, nil
}

// LoadFile reads the recording at path.
func LoadFile(path string) ([]events.RawLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Counter reports stored entity counts for the summary.
type Counter interface {
	Count(ctx context.Context, kind storage.Kind) (int, error)
}

// Options configures a replay.
type Options struct {
	Decoder *events.Decoder
	Handler ingestion.Handler
	Counter Counter // optional
	Logger  logrus.FieldLogger
}

// Summary describes a finished replay.
type Summary struct {
	Logs       int                  `json:"logs"`
	Handled    int                  `json:"handled"`
	Skipped    int                  `json:"skipped"`
	FirstBlock uint64               `json:"firstBlock"`
	LastBlock  uint64               `json:"lastBlock"`
	Entities   map[storage.Kind]int `json:"entities,omitempty"`
	Duration   time.Duration        `json:"duration"`
}

// Run sorts logs into ledger order and handles each exactly once.
// It stops at the first log that fails.
func Run(ctx context.Context, logs []events.RawLog, opts Options) (*Summary, error) {
	start := time.Now()
	sorted := make([]events.RawLog, len(logs))
	copy(sorted, logs)
	ingestion.SortLogs(sorted)
	sorted = ingestion.Dedupe(sorted)

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Name:    "replay",
		Decoder: opts.Decoder,
		Handler: opts.Handler,
		Cursors: memory.NewCursorStore(),
		Logger:  opts.Logger,
	})

	summary := &Summary{Logs: len(logs)}
	if len(sorted) > 0 {
		summary.FirstBlock = sorted[0].BlockNumber
		summary.LastBlock = sorted[len(sorted)-1].BlockNumber
	}
	for _, raw := range sorted {
		if err := runner.Process(ctx, raw); err != nil {
			return summary, fmt.Errorf("replay stopped at block %d log %d: %w", raw.BlockNumber, raw.LogIndex, err)
		}
	}

	stats := runner.Stats()
	summary.Handled = stats.Handled
	summary.Skipped = summary.Logs - stats.Handled
	summary.Duration = time.Since(start)

	if opts.Counter != nil {
		summary.Entities = make(map[storage.Kind]int)
		for _, kind := range storage.Kinds() {
			n, err := opts.Counter.Count(ctx, kind)
			if err != nil {
				return summary, err
			}
			summary.Entities[kind] = n
		}
	}

	logging.Component(opts.Logger, "replay").WithFields(logrus.Fields{
		"logs":     summary.Logs,
		"handled":  summary.Handled,
		"duration": summary.Duration,
	}).Info("replay complete")
	return summary, nil
}
