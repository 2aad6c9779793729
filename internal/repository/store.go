package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Querier interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (domain.Business, error)
	GetBusinessLocation(ctx context.Context, id uuid.UUID) (domain.BusinessLocation, error)
	GetCoupon(ctx context.Context, id uuid.UUID) (domain.Coupon, error)
	InsertCoupon(ctx context.Context, arg InsertCouponParams) (domain.Coupon, error)
	DeleteUnclaimedCoupon(ctx context.Context, id uuid.UUID) (int64, error)
	InsertClaim(ctx context.Context, arg InsertClaimParams) (int64, error)
	IncrementClaims(ctx context.Context, couponID uuid.UUID) (domain.Coupon, error)
	GetClaim(ctx context.Context, id uuid.UUID) (domain.Claim, error)
	TransitionClaim(ctx context.Context, arg TransitionClaimParams) (int64, error)
	InsertRedemptionRequest(ctx context.Context, arg InsertRedemptionRequestParams) (int64, error)
	GetOpenRequestByClaim(ctx context.Context, claimID uuid.UUID) (domain.RedemptionRequest, error)
	GetRequestByCode(ctx context.Context, code string) (domain.RedemptionRequest, error)
	GetRequestByID(ctx context.Context, id uuid.UUID) (domain.RedemptionRequest, error)
	CompleteRequest(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
	ExpireRequest(ctx context.Context, id uuid.UUID) (int64, error)
	IncrementRedemption(ctx context.Context, couponID uuid.UUID) (domain.Coupon, error)
	ListActiveCoupons(ctx context.Context, arg ListActiveCouponsParams) ([]domain.CouponListing, error)
	ListLiveClaimedCouponIDs(ctx context.Context, userID string, couponIDs []uuid.UUID) ([]uuid.UUID, error)
	ExpireElapsedRequests(ctx context.Context, now time.Time) (int64, error)
	ExpireEndedClaims(ctx context.Context, now time.Time) (int64, error)
}

// Store runs single queries against the pool and groups multi-step writes in
// ExecTx. Counters are only ever changed through conditional updates.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

type store struct {
	*Queries
	pool *pgxpool.Pool
}

var _ Querier = (*Queries)(nil)

func New(pool *pgxpool.Pool) Store {
	return &store{
		Queries: NewQueries(pool),
		pool:    pool,
	}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := s.Queries.WithTx(tx)
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %w, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsNoRows reports whether err is pgx.ErrNoRows, the store's not-found signal.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsRetryable reports whether err is a serialization failure or deadlock
// that is safe to retry with a fresh transaction.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
