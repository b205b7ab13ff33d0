package ingestion

import (
	"errors"
	"sort"

	"dca-indexer/internal/events"
	"dca-indexer/internal/storage"
)

// ErrInvalidOrdering is returned when logs are not in ledger order.
var ErrInvalidOrdering = errors.New("logs are not in ledger order")

// SortLogs orders logs by (block ASC, log_index ASC).
func SortLogs(logs []events.RawLog) {
	sort.SliceStable(logs, func(i, j int) bool {
		return compareLogs(logs[i], logs[j]) < 0
	})
}

// ValidateOrdering checks that logs are strictly increasing in ledger order.
// Returns ErrInvalidOrdering if not.
func ValidateOrdering(logs []events.RawLog) error {
	for i := 1; i < len(logs); i++ {
		if compareLogs(logs[i-1], logs[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// Dedupe drops repeated (block, log_index) pairs from sorted logs.
// A removed log wins over its live twin so reorged logs are never applied.
func Dedupe(logs []events.RawLog) []events.RawLog {
	if len(logs) < 2 {
		return logs
	}
	out := logs[:1]
	for _, lg := range logs[1:] {
		last := &out[len(out)-1]
		if compareLogs(*last, lg) == 0 {
			if lg.Removed {
				*last = lg
			}
			continue
		}
		out = append(out, lg)
	}
	return out
}

// afterCursor reports whether lg comes after the cursor position.
func afterCursor(lg events.RawLog, c *storage.Cursor) bool {
	if c == nil {
		return true
	}
	if lg.BlockNumber != c.Block {
		return lg.BlockNumber > c.Block
	}
	return lg.LogIndex > c.LogIndex
}

// compareLogs returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (block ASC, log_index ASC)
func compareLogs(a, b events.RawLog) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.LogIndex != b.LogIndex {
		if a.LogIndex < b.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}
