// Package stub provides in-memory log sources for tests and replays.
package stub

import (
	"context"
	"errors"
	"sync"

	"dca-indexer/internal/events"
	"dca-indexer/internal/ingestion"
)

// LogSource returns fixed in-memory logs.
// Logs can be intentionally unordered to test sorting.
type LogSource struct {
	mu   sync.Mutex
	logs []events.RawLog
	head uint64
	// Calls records every requested range.
	Calls [][2]uint64
}

// NewLogSource creates a stub source with the given logs. The head is the
// highest block among them.
func NewLogSource(logs []events.RawLog) *LogSource {
	s := &LogSource{}
	for _, lg := range logs {
		s.Add(lg)
	}
	return s
}

// Add appends a log and raises the head if needed.
func (s *LogSource) Add(lg events.RawLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, lg)
	if lg.BlockNumber > s.head {
		s.head = lg.BlockNumber
	}
}

// SetHead overrides the reported head.
func (s *LogSource) SetHead(head uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = head
}

// FetchLogs returns copies of the logs within [from, to].
func (s *LogSource) FetchLogs(_ context.Context, from, to uint64) ([]events.RawLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, [2]uint64{from, to})

	var out []events.RawLog
	for _, lg := range s.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			cp := lg
			cp.Topics = append([]string(nil), lg.Topics...)
			out = append(out, cp)
		}
	}
	return out, nil
}

// Head returns the highest block seen.
func (s *LogSource) Head(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("stream closed")

// StreamSource hands out logs from a channel and counts acknowledgements.
type StreamSource struct {
	ch     chan events.RawLog
	mu     sync.Mutex
	acked  []events.RawLog
	closed bool
}

// NewStreamSource creates a stream buffering up to size logs.
func NewStreamSource(size int) *StreamSource {
	return &StreamSource{ch: make(chan events.RawLog, size)}
}

// Send queues a log for delivery.
func (s *StreamSource) Send(lg events.RawLog) {
	s.ch <- lg
}

// Next returns the next queued log.
func (s *StreamSource) Next(ctx context.Context) (*ingestion.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case lg, ok := <-s.ch:
		if !ok {
			return nil, ErrClosed
		}
		return &ingestion.Delivery{
			Log: lg,
			Ack: func(context.Context) error {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.acked = append(s.acked, lg)
				return nil
			},
		}, nil
	}
}

// Acked returns the acknowledged logs in order.
func (s *StreamSource) Acked() []events.RawLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.RawLog(nil), s.acked...)
}

// Close ends the stream once the queue drains.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

var (
	_ ingestion.LogSource    = (*LogSource)(nil)
	_ ingestion.StreamSource = (*StreamSource)(nil)
)
