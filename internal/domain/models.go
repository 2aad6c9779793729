package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated    = errors.New("sign in to continue")
	ErrNotFound           = errors.New("not found")
	ErrSelfClaimForbidden = errors.New("you cannot claim a coupon issued by your own business")
	ErrAlreadyClaimed     = errors.New("you have already claimed this coupon")
	ErrCapacityExceeded   = errors.New("coupon is fully claimed")
	ErrInvalidState       = errors.New("claim is not in a state that allows this action")
	ErrExpired            = errors.New("coupon has expired")
	ErrAlreadyRedeemed    = errors.New("coupon has already been redeemed")
	ErrTransactionFailed  = errors.New("transaction failed, please retry")
	ErrNotYetActive       = errors.New("coupon is not active yet")
	ErrLocationRequired   = errors.New("a business location is required to redeem this coupon in store")
	ErrLocationMismatch   = errors.New("business location does not belong to the coupon's business")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrForbidden          = errors.New("forbidden")
	ErrHasClaims          = errors.New("coupon already has claims and cannot be deleted")
)

var businessErrors = []error{
	ErrUnauthenticated,
	ErrNotFound,
	ErrSelfClaimForbidden,
	ErrAlreadyClaimed,
	ErrCapacityExceeded,
	ErrInvalidState,
	ErrExpired,
	ErrAlreadyRedeemed,
	ErrTransactionFailed,
	ErrNotYetActive,
	ErrLocationRequired,
	ErrLocationMismatch,
	ErrInvalidRequest,
	ErrForbidden,
	ErrHasClaims,
}

// IsBusinessError reports whether err wraps one of the sentinel errors above.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type CouponType string

const (
	CouponTypeStore  CouponType = "redeem_at_store"
	CouponTypeOnline CouponType = "redeem_online"
)

func (t CouponType) Valid() bool {
	return t == CouponTypeStore || t == CouponTypeOnline
}

// Store coupons are redeemed within one of these windows, in minutes.
var StoreRedemptionWindows = []int{5, 10}

const DefaultStoreRedemptionWindow = 10

type Coupon struct {
	ID                      uuid.UUID  `json:"id"`
	BusinessID              uuid.UUID  `json:"business_id"`
	Title                   string     `json:"title"`
	Description             string     `json:"description"`
	Type                    CouponType `json:"type"`
	MaxClaims               int        `json:"max_claims"`
	CurrentClaims           int        `json:"current_claims"`
	CurrentRedemption       int        `json:"current_redemption"`
	StartDate               time.Time  `json:"start_date"`
	EndDate                 time.Time  `json:"end_date"`
	RedemptionWindowMinutes int        `json:"redemption_window_minutes"`
	CreatedAt               time.Time  `json:"created_at"`
}

func (c *Coupon) ActiveAt(t time.Time) bool {
	return !t.Before(c.StartDate) && !t.After(c.EndDate)
}

// CheckClaimWindow returns ErrNotYetActive or ErrExpired when t falls outside
// the coupon's validity window.
func (c *Coupon) CheckClaimWindow(t time.Time) error {
	if t.Before(c.StartDate) {
		return ErrNotYetActive
	}
	if t.After(c.EndDate) {
		return ErrExpired
	}
	return nil
}

func (c *Coupon) RemainingClaims() int {
	if c.CurrentClaims >= c.MaxClaims {
		return 0
	}
	return c.MaxClaims - c.CurrentClaims
}

type Business struct {
	ID          uuid.UUID `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Name        string    `json:"name"`
	Area        string    `json:"area"`
}

type BusinessLocation struct {
	ID         uuid.UUID `json:"id"`
	BusinessID uuid.UUID `json:"business_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
}

type Claim struct {
	ID         uuid.UUID   `json:"id"`
	UserID     string      `json:"user_id"`
	CouponID   uuid.UUID   `json:"coupon_id"`
	Status     ClaimStatus `json:"status"`
	ClaimedAt  time.Time   `json:"claimed_at"`
	RedeemedAt *time.Time  `json:"redeemed_at,omitempty"`
	ExpiredAt  *time.Time  `json:"expired_at,omitempty"`
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestCompleted RequestStatus = "completed"
	RequestExpired   RequestStatus = "expired"
)

// RedemptionRequest is the coupon_requests row created when a user starts
// redeeming a claim. It carries the verification code shown to the verifier.
type RedemptionRequest struct {
	ID                 uuid.UUID     `json:"id"`
	ClaimID            uuid.UUID     `json:"claim_id"`
	CouponID           uuid.UUID     `json:"coupon_id"`
	UserID             string        `json:"user_id"`
	BusinessLocationID *uuid.UUID    `json:"business_location_id,omitempty"`
	VerificationCode   string        `json:"verification_code"`
	Status             RequestStatus `json:"status"`
	ExpiresAt          time.Time     `json:"expires_at"`
	CreatedAt          time.Time     `json:"created_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

func (r *RedemptionRequest) ElapsedAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

type CouponListing struct {
	Coupon
	BusinessName string `json:"business_name"`
	Area         string `json:"area"`
	IsClaimed    *bool  `json:"is_claimed,omitempty"`
}

type RedemptionTicket struct {
	RequestID        uuid.UUID `json:"request_id"`
	VerificationCode string    `json:"verification_code"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type RedemptionResult struct {
	ClaimID    uuid.UUID `json:"claim_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type EventType string

const (
	EventCouponCreated  EventType = "coupon.created"
	EventCouponDeleted  EventType = "coupon.deleted"
	EventCouponClaimed  EventType = "coupon.claimed"
	EventCouponRedeemed EventType = "coupon.redeemed"
)

type CouponEvent struct {
	Type     EventType `json:"type"`
	CouponID uuid.UUID `json:"coupon_id"`
	ClaimID  uuid.UUID `json:"claim_id,omitzero"`
	UserID   string    `json:"user_id,omitempty"`
	At       time.Time `json:"at"`
}
