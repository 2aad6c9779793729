package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type ClaimRequest struct {
	UserID   string    `json:"user_id"`
	CouponID uuid.UUID `json:"coupon_id"`
}

func NewClaimRequest(userID, couponID string) (ClaimRequest, error) {
	if userID == "" {
		return ClaimRequest{}, ErrUnauthenticated
	}
	id, err := parseID(couponID, "coupon_id")
	if err != nil {
		return ClaimRequest{}, err
	}
	req := ClaimRequest{UserID: userID, CouponID: id}
	return req, req.Validate()
}

func (r ClaimRequest) Validate() error {
	if r.UserID == "" {
		return ErrUnauthenticated
	}
	if r.CouponID == uuid.Nil {
		return fmt.Errorf("%w: coupon_id is required", ErrInvalidRequest)
	}
	return nil
}

type InitiateRedemptionRequest struct {
	UserID             string     `json:"user_id"`
	CouponID           uuid.UUID  `json:"coupon_id"`
	ClaimID            uuid.UUID  `json:"claim_id"`
	BusinessLocationID *uuid.UUID `json:"business_location_id,omitempty"`
}

func NewInitiateRedemptionRequest(userID, couponID, claimID, businessLocationID string) (InitiateRedemptionRequest, error) {
	if userID == "" {
		return InitiateRedemptionRequest{}, ErrUnauthenticated
	}
	cid, err := parseID(couponID, "coupon_id")
	if err != nil {
		return InitiateRedemptionRequest{}, err
	}
	clid, err := parseID(claimID, "claim_id")
	if err != nil {
		return InitiateRedemptionRequest{}, err
	}
	loc, err := parseOptionalID(businessLocationID, "business_location_id")
	if err != nil {
		return InitiateRedemptionRequest{}, err
	}
	req := InitiateRedemptionRequest{UserID: userID, CouponID: cid, ClaimID: clid, BusinessLocationID: loc}
	return req, req.Validate()
}

func (r InitiateRedemptionRequest) Validate() error {
	if r.UserID == "" {
		return ErrUnauthenticated
	}
	if r.CouponID == uuid.Nil || r.ClaimID == uuid.Nil {
		return fmt.Errorf("%w: coupon_id and claim_id are required", ErrInvalidRequest)
	}
	return nil
}

// VerifyRedemptionRequest looks a redemption request up either by the
// verification code shown to the verifier or by the request id.
type VerifyRedemptionRequest struct {
	VerificationCode string     `json:"verification_code,omitempty"`
	RequestID        *uuid.UUID `json:"request_id,omitempty"`
}

func NewVerifyRedemptionRequest(code, requestID string) (VerifyRedemptionRequest, error) {
	id, err := parseOptionalID(requestID, "request_id")
	if err != nil {
		return VerifyRedemptionRequest{}, err
	}
	req := VerifyRedemptionRequest{
		VerificationCode: strings.ToLower(strings.TrimSpace(code)),
		RequestID:        id,
	}
	return req, req.Validate()
}

func (r VerifyRedemptionRequest) Validate() error {
	if r.VerificationCode == "" && r.RequestID == nil {
		return fmt.Errorf("%w: verification_code or request_id is required", ErrInvalidRequest)
	}
	if r.VerificationCode != "" && !ValidVerificationCode(r.VerificationCode) {
		return fmt.Errorf("%w: no redemption request matches this code", ErrNotFound)
	}
	return nil
}

type ListFilter struct {
	Area       string     `json:"area,omitempty"`
	BusinessID *uuid.UUID `json:"business_id,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

func NewListFilter(area, businessID, limit, offset string) (ListFilter, error) {
	f := ListFilter{Area: strings.TrimSpace(area)}
	id, err := parseOptionalID(businessID, "business_id")
	if err != nil {
		return ListFilter{}, err
	}
	f.BusinessID = id
	if f.Limit, err = parseOptionalInt(limit, "limit"); err != nil {
		return ListFilter{}, err
	}
	if f.Offset, err = parseOptionalInt(offset, "offset"); err != nil {
		return ListFilter{}, err
	}
	return f.Normalize(), nil
}

func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// CacheKey identifies the listing page selected by f.
func (f ListFilter) CacheKey() string {
	business := ""
	if f.BusinessID != nil {
		business = f.BusinessID.String()
	}
	return fmt.Sprintf("area=%s|business=%s|limit=%d|offset=%d", strings.ToLower(f.Area), business, f.Limit, f.Offset)
}

// ListCouponsRequest carries an optional user id; anonymous listings leave
// it empty and get no is_claimed annotation.
type ListCouponsRequest struct {
	UserID string     `json:"user_id,omitempty"`
	Filter ListFilter `json:"filter"`
}

type CreateCouponRequest struct {
	OwnerID                 string     `json:"owner_id"`
	BusinessID              uuid.UUID  `json:"business_id"`
	Title                   string     `json:"title"`
	Description             string     `json:"description"`
	Type                    CouponType `json:"type"`
	MaxClaims               int        `json:"max_claims"`
	StartDate               time.Time  `json:"start_date"`
	EndDate                 time.Time  `json:"end_date"`
	RedemptionWindowMinutes int        `json:"redemption_window_minutes,omitempty"`
}

// Normalized fills the store redemption window default and clears it for
// online coupons.
func (r CreateCouponRequest) Normalized() CreateCouponRequest {
	r.Title = strings.TrimSpace(r.Title)
	switch r.Type {
	case CouponTypeStore:
		if r.RedemptionWindowMinutes == 0 {
			r.RedemptionWindowMinutes = DefaultStoreRedemptionWindow
		}
	case CouponTypeOnline:
		r.RedemptionWindowMinutes = 0
	}
	return r
}

func (r CreateCouponRequest) Validate() error {
	if r.OwnerID == "" {
		return ErrUnauthenticated
	}
	switch {
	case r.BusinessID == uuid.Nil:
		return fmt.Errorf("%w: business_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	case !r.Type.Valid():
		return fmt.Errorf("%w: type must be %s or %s", ErrInvalidRequest, CouponTypeStore, CouponTypeOnline)
	case r.MaxClaims <= 0:
		return fmt.Errorf("%w: max_claims must be positive", ErrInvalidRequest)
	case !r.EndDate.After(r.StartDate):
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidRequest)
	}
	if r.Type == CouponTypeStore && !slices.Contains(StoreRedemptionWindows, r.RedemptionWindowMinutes) {
		return fmt.Errorf("%w: redemption_window_minutes must be one of %v", ErrInvalidRequest, StoreRedemptionWindows)
	}
	return nil
}

type DeleteCouponRequest struct {
	OwnerID  string    `json:"owner_id"`
	CouponID uuid.UUID `json:"coupon_id"`
}

func NewDeleteCouponRequest(ownerID, couponID string) (DeleteCouponRequest, error) {
	if ownerID == "" {
		return DeleteCouponRequest{}, ErrUnauthenticated
	}
	id, err := parseID(couponID, "coupon_id")
	if err != nil {
		return DeleteCouponRequest{}, err
	}
	return DeleteCouponRequest{OwnerID: ownerID, CouponID: id}, nil
}

func (r DeleteCouponRequest) Validate() error {
	if r.OwnerID == "" {
		return ErrUnauthenticated
	}
	if r.CouponID == uuid.Nil {
		return fmt.Errorf("%w: coupon_id is required", ErrInvalidRequest)
	}
	return nil
}

func parseID(value, field string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", ErrInvalidRequest, field)
	}
	return id, nil
}

func parseOptionalID(value, field string) (*uuid.UUID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	id, err := parseID(value, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseOptionalInt(value, field string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, field)
	}
	return n, nil
}
