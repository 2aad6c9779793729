package metrics

import (
	"errors"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "claims_total",
		Help:      "Claim attempts by outcome.",
	}, []string{"outcome"})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "redemptions_total",
		Help:      "Redemption initiations and verifications by outcome.",
	}, []string{"stage", "outcome"})

	ListingCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "listing_cache_total",
		Help:      "Listing cache lookups by result.",
	}, []string{"result"})

	ExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coupon",
		Name:      "expired_total",
		Help:      "Rows expired by the sweeper or lazily on access.",
	}, []string{"source"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coupon",
		Name:      "operation_duration_seconds",
		Help:      "Service operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
)

var outcomes = []struct {
	err   error
	label string
}{
	{domain.ErrUnauthenticated, "unauthenticated"},
	{domain.ErrNotFound, "not_found"},
	{domain.ErrSelfClaimForbidden, "self_claim"},
	{domain.ErrAlreadyClaimed, "already_claimed"},
	{domain.ErrCapacityExceeded, "capacity_exceeded"},
	{domain.ErrInvalidState, "invalid_state"},
	{domain.ErrExpired, "expired"},
	{domain.ErrAlreadyRedeemed, "already_redeemed"},
	{domain.ErrNotYetActive, "not_yet_active"},
	{domain.ErrLocationRequired, "location_required"},
	{domain.ErrLocationMismatch, "location_mismatch"},
	{domain.ErrInvalidRequest, "invalid_request"},
	{domain.ErrForbidden, "forbidden"},
	{domain.ErrHasClaims, "has_claims"},
	{domain.ErrTransactionFailed, "transaction_failed"},
}

// Outcome turns an operation result into a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}

// ObserveOperation records the duration since start under op.
func ObserveOperation(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op, Outcome(err)).Observe(time.Since(start).Seconds())
}
