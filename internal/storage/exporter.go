package storage

import (
	"context"

	"dca-indexer/internal/domain"
)

// AnalyticsExporter receives append-only records for analytical storage.
// Exports must tolerate re-delivery of the same record id.
type AnalyticsExporter interface {
	ExportAction(ctx context.Context, action *domain.PositionAction) error
	ExportPairSwap(ctx context.Context, swap *domain.PairSwap) error
}
