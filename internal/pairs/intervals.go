package pairs

import (
	"context"

	"github.com/sirupsen/logrus"

	"dca-indexer/internal/domain"
	"dca-indexer/internal/ids"
)

// DefaultSwapIntervals are enabled when the hub is deployed.
var DefaultSwapIntervals = []uint32{
	domain.IntervalOneHour,
	domain.IntervalFourHours,
	domain.IntervalOneDay,
	domain.IntervalOneWeek,
}

// SetSwapIntervals marks intervals as allowed or forbidden.
func (s *Service) SetSwapIntervals(ctx context.Context, ivs []uint32, active bool) error {
	for _, iv := range ivs {
		id := ids.SwapInterval(iv)
		if err := s.swapIntervals.Save(ctx, id, &domain.SwapInterval{ID: id, Interval: iv, Active: active}); err != nil {
			return err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"intervals": ivs,
		"active":    active,
	}).Info("swap intervals updated")
	return nil
}

// SeedSwapIntervals creates the default intervals as allowed unless they
// already exist.
func (s *Service) SeedSwapIntervals(ctx context.Context) error {
	for _, iv := range DefaultSwapIntervals {
		id := ids.SwapInterval(iv)
		if _, _, err := s.swapIntervals.GetOrCreate(ctx, id, func() (*domain.SwapInterval, error) {
			return &domain.SwapInterval{ID: id, Interval: iv, Active: true}, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// SwapInterval returns a known interval.
func (s *Service) SwapInterval(ctx context.Context, iv uint32) (*domain.SwapInterval, bool, error) {
	return s.swapIntervals.Find(ctx, ids.SwapInterval(iv))
}
