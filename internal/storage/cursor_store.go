package storage

import (
	"context"
	"math"
)

// BlockDone is the LogIndex of a cursor whose block was scanned completely.
const BlockDone uint = math.MaxInt32

// Cursor is the last ledger log a source fully processed.
type Cursor struct {
	Name     string // source name, e.g. "hub-mainnet"
	Block    uint64
	LogIndex uint
}

// NextBlock returns the first block that may still hold unprocessed logs.
func (c *Cursor) NextBlock() uint64 {
	if c.LogIndex == BlockDone {
		return c.Block + 1
	}
	return c.Block
}

// CursorStore persists ingestion progress so a restart resumes
// without skipping events. Re-delivery of already handled events is safe.
type CursorStore interface {
	// GetCursor returns the cursor for a source.
	// Returns ErrNotFound if no progress has been saved yet.
	GetCursor(ctx context.Context, name string) (*Cursor, error)

	// SetCursor saves the cursor for a source.
	SetCursor(ctx context.Context, cursor *Cursor) error
}
