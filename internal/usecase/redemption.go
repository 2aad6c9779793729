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
	"go.opentelemetry.io/otel/attribute"
)

var errCodeExhausted = errors.New("could not allocate a unique verification code")

func (s *CouponService) InitiateRedemption(ctx context.Context, req domain.InitiateRedemptionRequest) (ticket *domain.RedemptionTicket, err error) {
	ctx, span := tracer.Start(ctx, "CouponService.InitiateRedemption")
	span.SetAttributes(attribute.String("claim_id", req.ClaimID.String()))
	defer finish(span, "initiate_redemption", time.Now(), &err)
	defer func() { metrics.RedemptionsTotal.WithLabelValues("initiate", metrics.Outcome(err)).Inc() }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		t       domain.RedemptionTicket
		expired bool
	)
	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		expired = false
		now := s.now()

		claim, err := q.GetClaim(ctx, req.ClaimID)
		if err != nil {
			if repository.IsNoRows(err) {
				return fmt.Errorf("%w: claim %s", domain.ErrNotFound, req.ClaimID)
			}
			return err
		}
		if claim.UserID != req.UserID || claim.CouponID != req.CouponID {
			return fmt.Errorf("%w: claim %s", domain.ErrNotFound, req.ClaimID)
		}

		coupon, err := q.GetCoupon(ctx, claim.CouponID)
		if err != nil {
			return err
		}

		if !claim.Status.Terminal() && now.After(coupon.EndDate) {
			expired = true
			return expireClaim(ctx, q, claim, now)
		}
		if claim.Status == domain.StatusPendingVerification {
			open, err := q.GetOpenRequestByClaim(ctx, claim.ID)
			switch {
			case err == nil && open.ElapsedAt(now):
				expired = true
				return expireClaim(ctx, q, claim, now)
			case err != nil && !repository.IsNoRows(err):
				return err
			}
		}

		next, err := domain.Transition(claim.Status, domain.EventInitiateRedemption)
		if err != nil {
			return err
		}

		var location *uuid.UUID
		if coupon.Type == domain.CouponTypeStore {
			if req.BusinessLocationID == nil {
				return domain.ErrLocationRequired
			}
			loc, err := q.GetBusinessLocation(ctx, *req.BusinessLocationID)
			if err != nil {
				if repository.IsNoRows(err) {
					return domain.ErrLocationMismatch
				}
				return err
			}
			if loc.BusinessID != coupon.BusinessID {
				return domain.ErrLocationMismatch
			}
			location = &loc.ID
		}

		n, err := q.TransitionClaim(ctx, repository.TransitionClaimParams{
			ID:   claim.ID,
			From: claim.Status,
			To:   next,
			At:   now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: claim changed while redeeming", domain.ErrInvalidState)
		}

		expiresAt := now.Add(s.windowFor(coupon))
		if expiresAt.After(coupon.EndDate) {
			expiresAt = coupon.EndDate
		}
		for range codeAttempts {
			code, err := s.newCode()
			if err != nil {
				return err
			}
			id := uuid.New()
			n, err := q.InsertRedemptionRequest(ctx, repository.InsertRedemptionRequestParams{
				ID:                 id,
				ClaimID:            claim.ID,
				CouponID:           coupon.ID,
				UserID:             claim.UserID,
				BusinessLocationID: location,
				VerificationCode:   code,
				ExpiresAt:          expiresAt,
				CreatedAt:          now,
			})
			if err != nil {
				return err
			}
			if n == 1 {
				t = domain.RedemptionTicket{RequestID: id, VerificationCode: code, ExpiresAt: expiresAt}
				return nil
			}
		}
		return errCodeExhausted
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if expired {
		metrics.ExpiredTotal.WithLabelValues("lazy").Inc()
		return nil, domain.ErrExpired
	}

	zlog.Ctx(ctx).Info().
		Str("claim_id", req.ClaimID.String()).
		Str("request_id", t.RequestID.String()).
		Time("expires_at", t.ExpiresAt).
		Msg("redemption initiated")
	return &t, nil
}

// VerifyRedemption completes a pending request. Completion is a conditional
// update on the request's pending status, so concurrent verifiers of one
// request see exactly one success. It is never retried here: a retry after an
// ambiguous failure must re-read the request first.
func (s *CouponService) VerifyRedemption(ctx context.Context, req domain.VerifyRedemptionRequest) (result *domain.RedemptionResult, err error) {
	ctx, span := tracer.Start(ctx, "CouponService.VerifyRedemption")
	defer finish(span, "verify_redemption", time.Now(), &err)
	defer func() { metrics.RedemptionsTotal.WithLabelValues("verify", metrics.Outcome(err)).Inc() }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		res      domain.RedemptionResult
		couponID uuid.UUID
		userID   string
		expired  bool
	)
	err = s.store.ExecTx(ctx, func(q repository.Querier) error {
		expired = false
		now := s.now()

		r, err := lookupRequest(ctx, q, req)
		if err != nil {
			return err
		}
		if err := requestStatusErr(r.Status); err != nil {
			return err
		}

		coupon, err := q.GetCoupon(ctx, r.CouponID)
		if err != nil {
			return err
		}

		if r.ElapsedAt(now) || now.After(coupon.EndDate) {
			expired = true
			if _, err := q.ExpireRequest(ctx, r.ID); err != nil {
				return err
			}
			claim, err := q.GetClaim(ctx, r.ClaimID)
			if err != nil {
				return err
			}
			if claim.Status == domain.StatusPendingVerification {
				return expireClaim(ctx, q, claim, now)
			}
			return nil
		}

		n, err := q.CompleteRequest(ctx, r.ID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			cur, err := q.GetRequestByID(ctx, r.ID)
			if err != nil {
				return err
			}
			if err := requestStatusErr(cur.Status); err != nil {
				return err
			}
			return domain.ErrExpired
		}

		claim, err := q.GetClaim(ctx, r.ClaimID)
		if err != nil {
			return err
		}
		next, err := domain.Transition(claim.Status, domain.EventVerify)
		if err != nil {
			return err
		}
		n, err = q.TransitionClaim(ctx, repository.TransitionClaimParams{
			ID:   claim.ID,
			From: claim.Status,
			To:   next,
			At:   now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: claim changed while verifying", domain.ErrInvalidState)
		}

		if _, err := q.IncrementRedemption(ctx, r.CouponID); err != nil {
			if repository.IsNoRows(err) {
				return fmt.Errorf("%w: redemptions would exceed claims on coupon %s", domain.ErrTransactionFailed, r.CouponID)
			}
			return err
		}

		res = domain.RedemptionResult{ClaimID: claim.ID, RedeemedAt: now}
		couponID, userID = r.CouponID, r.UserID
		return nil
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if expired {
		metrics.ExpiredTotal.WithLabelValues("lazy").Inc()
		return nil, domain.ErrExpired
	}

	zlog.Ctx(ctx).Info().Str("claim_id", res.ClaimID.String()).Msg("coupon redeemed")
	s.afterCommit(ctx, domain.CouponEvent{
		Type:     domain.EventCouponRedeemed,
		CouponID: couponID,
		ClaimID:  res.ClaimID,
		UserID:   userID,
		At:       res.RedeemedAt,
	})
	return &res, nil
}

func (s *CouponService) windowFor(c domain.Coupon) time.Duration {
	if c.Type == domain.CouponTypeOnline {
		return s.onlineWindow
	}
	if c.RedemptionWindowMinutes > 0 {
		return time.Duration(c.RedemptionWindowMinutes) * time.Minute
	}
	return s.storeWindow
}

func lookupRequest(ctx context.Context, q repository.Querier, req domain.VerifyRedemptionRequest) (domain.RedemptionRequest, error) {
	var (
		r   domain.RedemptionRequest
		err error
	)
	if req.RequestID != nil {
		r, err = q.GetRequestByID(ctx, *req.RequestID)
	} else {
		r, err = q.GetRequestByCode(ctx, req.VerificationCode)
	}
	if err != nil {
		if repository.IsNoRows(err) {
			return r, fmt.Errorf("%w: no redemption request matches", domain.ErrNotFound)
		}
		return r, err
	}
	if req.RequestID != nil && req.VerificationCode != "" && r.VerificationCode != req.VerificationCode {
		return r, fmt.Errorf("%w: no redemption request matches", domain.ErrNotFound)
	}
	return r, nil
}

func requestStatusErr(st domain.RequestStatus) error {
	switch st {
	case domain.RequestCompleted:
		return domain.ErrAlreadyRedeemed
	case domain.RequestExpired:
		return domain.ErrExpired
	}
	return nil
}

// expireClaim moves claim to expired through the state machine and closes
// its pending redemption request, if any.
func expireClaim(ctx context.Context, q repository.Querier, claim domain.Claim, now time.Time) error {
	next, err := domain.Transition(claim.Status, domain.EventExpire)
	if err != nil {
		return err
	}

	if claim.Status == domain.StatusPendingVerification {
		open, err := q.GetOpenRequestByClaim(ctx, claim.ID)
		switch {
		case err == nil:
			if _, err := q.ExpireRequest(ctx, open.ID); err != nil {
				return err
			}
		case !repository.IsNoRows(err):
			return err
		}
	}

	n, err := q.TransitionClaim(ctx, repository.TransitionClaimParams{
		ID:   claim.ID,
		From: claim.Status,
		To:   next,
		At:   now,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: claim changed while expiring", domain.ErrInvalidState)
	}
	return nil
}
