package ingestion

import (
	"context"

	"dca-indexer/internal/events"
)

// LogSource provides raw logs of the watched contracts by block range.
type LogSource interface {
	// FetchLogs returns logs in blocks [from, to] (inclusive).
	// Logs may be unordered; the Runner enforces ledger order.
	FetchLogs(ctx context.Context, from, to uint64) ([]events.RawLog, error)

	// Head returns the latest block number known to the source.
	Head(ctx context.Context) (uint64, error)
}

// Delivery is one log received from a stream. Ack marks it handled.
type Delivery struct {
	Log events.RawLog
	Ack func(ctx context.Context) error
}

// StreamSource delivers raw logs one at a time, already in ledger order.
type StreamSource interface {
	// Next blocks until a log is available or ctx is done.
	Next(ctx context.Context) (*Delivery, error)
	Close() error
}

// Sink receives every raw log the Runner handled, e.g. for recording.
type Sink interface {
	Write(ctx context.Context, raw events.RawLog) error
}
