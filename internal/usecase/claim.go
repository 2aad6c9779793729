package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/metrics"
	"github.com/azizikri/coupon-marketplace/internal/repository"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ClaimCoupon inserts the user's claim and takes one unit of capacity in a
// single transaction. The unique insert runs first, so a retried attempt
// re-checks AlreadyClaimed before touching the counter again.
func (s *CouponService) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (claim *domain.Claim, err error) {
	ctx, span := tracer.Start(ctx, "CouponService.ClaimCoupon")
	span.SetAttributes(attribute.String("coupon_id", req.CouponID.String()))
	defer finish(span, "claim", time.Now(), &err)
	defer func() { metrics.ClaimsTotal.WithLabelValues(metrics.Outcome(err)).Inc() }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := zlog.Ctx(ctx).With().
		Str("user_id", req.UserID).
		Str("coupon_id", req.CouponID.String()).
		Logger()

	var c domain.Claim
	for attempt := 1; ; attempt++ {
		err = s.store.ExecTx(ctx, func(q repository.Querier) error {
			var err error
			c, err = s.claimOnce(ctx, q, req)
			return err
		})
		if err == nil || !repository.IsRetryable(err) || attempt >= s.claimAttempts {
			break
		}
		logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying claim")
	}
	if err != nil {
		return nil, wrapErr(err)
	}

	logger.Info().Str("claim_id", c.ID.String()).Msg("coupon claimed")
	s.afterCommit(ctx, domain.CouponEvent{
		Type:     domain.EventCouponClaimed,
		CouponID: c.CouponID,
		ClaimID:  c.ID,
		UserID:   c.UserID,
		At:       c.ClaimedAt,
	})
	return &c, nil
}

func (s *CouponService) claimOnce(ctx context.Context, q repository.Querier, req domain.ClaimRequest) (domain.Claim, error) {
	now := s.now()

	coupon, err := q.GetCoupon(ctx, req.CouponID)
	if err != nil {
		if repository.IsNoRows(err) {
			return domain.Claim{}, fmt.Errorf("%w: coupon %s", domain.ErrNotFound, req.CouponID)
		}
		return domain.Claim{}, err
	}
	if err := coupon.CheckClaimWindow(now); err != nil {
		return domain.Claim{}, err
	}

	business, err := q.GetBusiness(ctx, coupon.BusinessID)
	if err != nil {
		return domain.Claim{}, err
	}
	if business.OwnerUserID == req.UserID {
		return domain.Claim{}, domain.ErrSelfClaimForbidden
	}

	c := domain.Claim{
		ID:        uuid.New(),
		UserID:    req.UserID,
		CouponID:  req.CouponID,
		Status:    domain.StatusClaimed,
		ClaimedAt: now,
	}
	rowsAffected, err := q.InsertClaim(ctx, repository.InsertClaimParams{
		ID:        c.ID,
		UserID:    c.UserID,
		CouponID:  c.CouponID,
		ClaimedAt: c.ClaimedAt,
	})
	if err != nil {
		return domain.Claim{}, err
	}
	if rowsAffected == 0 {
		return domain.Claim{}, domain.ErrAlreadyClaimed
	}

	if _, err := q.IncrementClaims(ctx, req.CouponID); err != nil {
		if repository.IsNoRows(err) {
			return domain.Claim{}, domain.ErrCapacityExceeded
		}
		return domain.Claim{}, err
	}
	return c, nil
}
