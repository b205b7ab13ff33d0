package ingestion

import (
	"errors"
	"testing"

	"dca-indexer/internal/events"
	"dca-indexer/internal/storage"
)

func rawLog(block uint64, index uint) events.RawLog {
	return events.RawLog{BlockNumber: block, LogIndex: index}
}

func TestSortLogs(t *testing.T) {
	// Intentionally unordered logs
	logs := []events.RawLog{
		rawLog(200, 0),
		rawLog(100, 3),
		rawLog(100, 1),
		rawLog(300, 0),
		rawLog(100, 2),
	}

	SortLogs(logs)

	expected := []struct {
		block uint64
		index uint
	}{
		{100, 1},
		{100, 2},
		{100, 3},
		{200, 0},
		{300, 0},
	}
	for i, exp := range expected {
		if logs[i].BlockNumber != exp.block || logs[i].LogIndex != exp.index {
			t.Errorf("Index %d: got (%d, %d), want (%d, %d)",
				i, logs[i].BlockNumber, logs[i].LogIndex, exp.block, exp.index)
		}
	}
}

func TestSortLogs_Empty(t *testing.T) {
	var logs []events.RawLog
	SortLogs(logs) // Should not panic
}

func TestValidateOrdering(t *testing.T) {
	tests := []struct {
		name string
		logs []events.RawLog
		want error
	}{
		{"empty", nil, nil},
		{"ordered", []events.RawLog{rawLog(1, 0), rawLog(1, 1), rawLog(2, 0)}, nil},
		{"duplicate", []events.RawLog{rawLog(1, 0), rawLog(1, 0)}, ErrInvalidOrdering},
		{"reversed", []events.RawLog{rawLog(2, 0), rawLog(1, 5)}, ErrInvalidOrdering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateOrdering(tt.logs); !errors.Is(err, tt.want) {
				t.Errorf("ValidateOrdering() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	removed := rawLog(1, 1)
	removed.Removed = true

	logs := []events.RawLog{rawLog(1, 0), rawLog(1, 1), removed, rawLog(2, 0), rawLog(2, 0)}
	out := Dedupe(logs)

	if len(out) != 3 {
		t.Fatalf("Expected 3 logs, got %d", len(out))
	}
	if !out[1].Removed {
		t.Error("Removed twin should replace the live log")
	}
	if err := ValidateOrdering(out); err != nil {
		t.Errorf("Deduped logs should be ordered: %v", err)
	}
}

func TestAfterCursor(t *testing.T) {
	cursor := &storage.Cursor{Block: 10, LogIndex: 4}
	done := &storage.Cursor{Block: 10, LogIndex: storage.BlockDone}

	tests := []struct {
		name   string
		log    events.RawLog
		cursor *storage.Cursor
		want   bool
	}{
		{"no cursor", rawLog(1, 0), nil, true},
		{"earlier block", rawLog(9, 9), cursor, false},
		{"same log", rawLog(10, 4), cursor, false},
		{"later log same block", rawLog(10, 5), cursor, true},
		{"later block", rawLog(11, 0), cursor, true},
		{"finished block", rawLog(10, 900), done, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := afterCursor(tt.log, tt.cursor); got != tt.want {
				t.Errorf("afterCursor() = %v, want %v", got, tt.want)
			}
		})
	}
}
