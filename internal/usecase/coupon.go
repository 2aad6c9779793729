package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/metrics"
	"github.com/azizikri/coupon-marketplace/internal/repository"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("coupon-marketplace/usecase")

const (
	DefaultStoreWindow   = time.Duration(domain.DefaultStoreRedemptionWindow) * time.Minute
	DefaultOnlineWindow  = 7 * 24 * time.Hour
	DefaultClaimAttempts = 3
	codeAttempts         = 3
	listFillTimeout      = 5 * time.Second
)

type CouponService struct {
	store     repository.Store
	cache     ListingCache
	publisher EventPublisher
	now       Clock
	newCode   func() (string, error)

	storeWindow   time.Duration
	onlineWindow  time.Duration
	claimAttempts int

	listings singleflight.Group
}

var _ CouponGateway = (*CouponService)(nil)

type Option func(*CouponService)

func WithCache(c ListingCache) Option {
	return func(s *CouponService) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(s *CouponService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *CouponService) { s.now = c }
}

func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *CouponService) { s.newCode = fn }
}

// WithRedemptionWindows sets the fallback window for store coupons without
// their own setting and the fixed window for online coupons.
func WithRedemptionWindows(store, online time.Duration) Option {
	return func(s *CouponService) {
		if store > 0 {
			s.storeWindow = store
		}
		if online > 0 {
			s.onlineWindow = online
		}
	}
}

func WithClaimAttempts(n int) Option {
	return func(s *CouponService) {
		if n > 0 {
			s.claimAttempts = n
		}
	}
}

func NewCouponService(store repository.Store, opts ...Option) *CouponService {
	s := &CouponService{
		store:         store,
		cache:         nopCache{},
		publisher:     nopPublisher{},
		now:           time.Now,
		newCode:       domain.NewVerificationCode,
		storeWindow:   DefaultStoreWindow,
		onlineWindow:  DefaultOnlineWindow,
		claimAttempts: DefaultClaimAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CouponService) CreateCoupon(ctx context.Context, req domain.CreateCouponRequest) (coupon *domain.Coupon, err error) {
	ctx, span := tracer.Start(ctx, "CouponService.CreateCoupon")
	defer finish(span, "create", time.Now(), &err)

	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	business, err := s.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		if repository.IsNoRows(err) {
			return nil, fmt.Errorf("%w: business %s", domain.ErrNotFound, req.BusinessID)
		}
		return nil, wrapErr(err)
	}
	if business.OwnerUserID != req.OwnerID {
		return nil, fmt.Errorf("%w: only the business owner can issue coupons", domain.ErrForbidden)
	}

	created, err := s.store.InsertCoupon(ctx, repository.InsertCouponParams{
		ID:                      uuid.New(),
		BusinessID:              req.BusinessID,
		Title:                   req.Title,
		Description:             req.Description,
		Type:                    req.Type,
		MaxClaims:               req.MaxClaims,
		StartDate:               req.StartDate,
		EndDate:                 req.EndDate,
		RedemptionWindowMinutes: req.RedemptionWindowMinutes,
	})
	if err != nil {
		return nil, wrapErr(err)
	}

	s.afterCommit(ctx, domain.CouponEvent{
		Type:     domain.EventCouponCreated,
		CouponID: created.ID,
		UserID:   req.OwnerID,
		At:       s.now(),
	})
	return &created, nil
}

func (s *CouponService) DeleteCoupon(ctx context.Context, req domain.DeleteCouponRequest) (err error) {
	ctx, span := tracer.Start(ctx, "CouponService.DeleteCoupon")
	defer finish(span, "delete", time.Now(), &err)

	if err := req.Validate(); err != nil {
		return err
	}

	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		coupon, err := q.GetCoupon(ctx, req.CouponID)
		if err != nil {
			if repository.IsNoRows(err) {
				return fmt.Errorf("%w: coupon %s", domain.ErrNotFound, req.CouponID)
			}
			return err
		}
		business, err := q.GetBusiness(ctx, coupon.BusinessID)
		if err != nil {
			return err
		}
		if business.OwnerUserID != req.OwnerID {
			return fmt.Errorf("%w: only the business owner can delete coupons", domain.ErrForbidden)
		}

		n, err := q.DeleteUnclaimedCoupon(ctx, req.CouponID)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrHasClaims
		}
		return nil
	})
	if err != nil {
		return wrapErr(err)
	}

	s.afterCommit(ctx, domain.CouponEvent{
		Type:     domain.EventCouponDeleted,
		CouponID: req.CouponID,
		UserID:   req.OwnerID,
		At:       s.now(),
	})
	return nil
}

// ListCoupons returns active coupons for the filter. Base rows may come from
// the listing cache; is_claimed is always read from the store.
func (s *CouponService) ListCoupons(ctx context.Context, req domain.ListCouponsRequest) (listings []domain.CouponListing, err error) {
	ctx, span := tracer.Start(ctx, "CouponService.ListCoupons")
	defer finish(span, "list", time.Now(), &err)

	filter := req.Filter.Normalize()
	base, err := s.listingBase(ctx, filter)
	if err != nil {
		return nil, wrapErr(err)
	}

	listings = make([]domain.CouponListing, len(base))
	copy(listings, base)
	for i := range listings {
		listings[i].IsClaimed = nil
	}
	if req.UserID == "" || len(listings) == 0 {
		return listings, nil
	}

	ids := make([]uuid.UUID, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	claimed, err := s.store.ListLiveClaimedCouponIDs(ctx, req.UserID, ids)
	if err != nil {
		return nil, wrapErr(err)
	}
	set := make(map[uuid.UUID]bool, len(claimed))
	for _, id := range claimed {
		set[id] = true
	}
	for i := range listings {
		v := set[listings[i].ID]
		listings[i].IsClaimed = &v
	}
	return listings, nil
}

func (s *CouponService) listingBase(ctx context.Context, filter domain.ListFilter) ([]domain.CouponListing, error) {
	logger := zlog.Ctx(ctx)

	cached, ok, err := s.cache.Get(ctx, filter)
	switch {
	case err != nil:
		metrics.ListingCacheTotal.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("listing cache read failed")
	case ok:
		metrics.ListingCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		metrics.ListingCacheTotal.WithLabelValues("miss").Inc()
	}

	// The fill is shared by every caller collapsed onto this key, so it must
	// outlive the one that started it.
	v, err, _ := s.listings.Do(filter.CacheKey(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listFillTimeout)
		defer cancel()

		rows, err := s.store.ListActiveCoupons(ctx, repository.ListActiveCouponsParams{
			Now:        s.now(),
			Area:       filter.Area,
			BusinessID: filter.BusinessID,
			Limit:      filter.Limit,
			Offset:     filter.Offset,
		})
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, filter, rows); err != nil {
			logger.Warn().Err(err).Msg("listing cache write failed")
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CouponListing), nil
}

// afterCommit drops cached listings touched by ev and publishes it. Both are
// best effort; the write they follow has already committed.
func (s *CouponService) afterCommit(ctx context.Context, ev domain.CouponEvent) {
	logger := zlog.Ctx(ctx).With().
		Str("event", string(ev.Type)).
		Str("coupon_id", ev.CouponID.String()).
		Logger()

	var err error
	if ev.Type == domain.EventCouponCreated {
		err = s.cache.InvalidateAll(ctx)
	} else {
		err = s.cache.InvalidateCoupon(ctx, ev.CouponID)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("listing cache invalidation failed")
	}

	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Msg("publish coupon event failed")
	}
}

// wrapErr passes business errors through and reports everything else as a
// failed transaction.
func wrapErr(err error) error {
	if err == nil || domain.IsBusinessError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
}

func finish(span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	span.SetAttributes(attribute.String("outcome", metrics.Outcome(err)))
	if err != nil && (errors.Is(err, domain.ErrTransactionFailed) || !domain.IsBusinessError(err)) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	metrics.ObserveOperation(op, start, err)
}
