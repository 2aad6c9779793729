package usecase

import (
	"context"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/metrics"
	zlog "github.com/rs/zerolog/log"
)

// ExpireStale expires pending requests past their window together with their
// claims, then open claims on coupons that have ended. It reports the number
// of claims expired. Expiry is also applied
// lazily on access, so this only keeps the tables tidy.
func (s *CouponService) ExpireStale(ctx context.Context) (int64, error) {
	now := s.now()

	elapsed, err := s.store.ExpireElapsedRequests(ctx, now)
	if err != nil {
		return 0, wrapErr(err)
	}
	ended, err := s.store.ExpireEndedClaims(ctx, now)
	if err != nil {
		return elapsed, wrapErr(err)
	}

	total := elapsed + ended
	if total > 0 {
		metrics.ExpiredTotal.WithLabelValues("sweeper").Add(float64(total))
	}
	return total, nil
}

// RunSweeper calls ExpireStale every interval until ctx is done.
func (s *CouponService) RunSweeper(ctx context.Context, interval time.Duration) error {
	logger := zlog.Ctx(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("rows", n).Msg("expired stale claims")
			}
		}
	}
}
