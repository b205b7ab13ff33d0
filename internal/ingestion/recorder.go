package ingestion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sugawarayuuta/sonnet"

	"dca-indexer/internal/events"
)

// Recorder appends raw logs to a JSONL stream, one log per line.
// The output can be fed back through cmd/replay.
type Recorder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewRecorder writes to w. If w is an io.Closer, Close closes it.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// OpenRecorder appends to the file at path, creating it if needed.
func OpenRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	return NewRecorder(f), nil
}

// Write appends one log.
func (r *Recorder) Write(_ context.Context, raw events.RawLog) error {
	data, err := sonnet.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(data); err != nil {
		return err
	}
	return r.w.WriteByte('\n')
}

// Flush writes buffered lines.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

// Close flushes and closes the destination.
func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

var _ Sink = (*Recorder)(nil)
