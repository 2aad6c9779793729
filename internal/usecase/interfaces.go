package usecase

import (
	"context"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/google/uuid"
)

// CouponGateway is implemented by CouponService for in-process calls and by
// the Kafka gateway for event-driven mode.
type CouponGateway interface {
	CreateCoupon(ctx context.Context, req domain.CreateCouponRequest) (*domain.Coupon, error)
	DeleteCoupon(ctx context.Context, req domain.DeleteCouponRequest) error
	ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (*domain.Claim, error)
	InitiateRedemption(ctx context.Context, req domain.InitiateRedemptionRequest) (*domain.RedemptionTicket, error)
	VerifyRedemption(ctx context.Context, req domain.VerifyRedemptionRequest) (*domain.RedemptionResult, error)
	ListCoupons(ctx context.Context, req domain.ListCouponsRequest) ([]domain.CouponListing, error)
}

// ListingCache stores the base listing rows for a filter. Per-user data is
// never stored in it.
type ListingCache interface {
	Get(ctx context.Context, filter domain.ListFilter) ([]domain.CouponListing, bool, error)
	Set(ctx context.Context, filter domain.ListFilter, listings []domain.CouponListing) error
	InvalidateCoupon(ctx context.Context, couponID uuid.UUID) error
	InvalidateAll(ctx context.Context) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.CouponEvent) error
}

type Clock func() time.Time

type nopCache struct{}

func (nopCache) Get(context.Context, domain.ListFilter) ([]domain.CouponListing, bool, error) {
	return nil, false, nil
}
func (nopCache) Set(context.Context, domain.ListFilter, []domain.CouponListing) error { return nil }
func (nopCache) InvalidateCoupon(context.Context, uuid.UUID) error                    { return nil }
func (nopCache) InvalidateAll(context.Context) error                                  { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.CouponEvent) error { return nil }
