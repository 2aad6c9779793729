package kafka

import (
	"errors"

	"github.com/azizikri/coupon-marketplace/internal/domain"
)

const SchemaVersion = 1

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeSelfClaimForbidden = "SELF_CLAIM_FORBIDDEN"
	ErrCodeAlreadyClaimed     = "ALREADY_CLAIMED"
	ErrCodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeExpired            = "EXPIRED"
	ErrCodeAlreadyRedeemed    = "ALREADY_REDEEMED"
	ErrCodeTransactionFailed  = "TRANSACTION_FAILED"
	ErrCodeNotYetActive       = "NOT_YET_ACTIVE"
	ErrCodeLocationRequired   = "LOCATION_REQUIRED"
	ErrCodeLocationMismatch   = "LOCATION_MISMATCH"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeHasClaims          = "HAS_CLAIMS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

var errorCodes = []struct {
	code string
	err  error
}{
	{ErrCodeUnauthenticated, domain.ErrUnauthenticated},
	{ErrCodeNotFound, domain.ErrNotFound},
	{ErrCodeSelfClaimForbidden, domain.ErrSelfClaimForbidden},
	{ErrCodeAlreadyClaimed, domain.ErrAlreadyClaimed},
	{ErrCodeCapacityExceeded, domain.ErrCapacityExceeded},
	{ErrCodeInvalidState, domain.ErrInvalidState},
	{ErrCodeExpired, domain.ErrExpired},
	{ErrCodeAlreadyRedeemed, domain.ErrAlreadyRedeemed},
	{ErrCodeTransactionFailed, domain.ErrTransactionFailed},
	{ErrCodeNotYetActive, domain.ErrNotYetActive},
	{ErrCodeLocationRequired, domain.ErrLocationRequired},
	{ErrCodeLocationMismatch, domain.ErrLocationMismatch},
	{ErrCodeInvalidRequest, domain.ErrInvalidRequest},
	{ErrCodeForbidden, domain.ErrForbidden},
	{ErrCodeHasClaims, domain.ErrHasClaims},
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ErrCodeInternalError
}

// remoteError keeps the consumer's message while still matching the domain
// sentinel with errors.Is.
type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.sentinel }

// ErrorFromCode rebuilds a domain error from a reply.
func ErrorFromCode(code, message string) error {
	for _, e := range errorCodes {
		if e.code != code {
			continue
		}
		if message == "" {
			return e.err
		}
		return &remoteError{sentinel: e.err, message: message}
	}
	if message == "" {
		message = "internal error"
	}
	return errors.New(message)
}

// RequestPayload carries exactly one operation request.
type RequestPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`

	Create   *domain.CreateCouponRequest       `json:"create,omitempty"`
	Delete   *domain.DeleteCouponRequest       `json:"delete,omitempty"`
	Claim    *domain.ClaimRequest              `json:"claim,omitempty"`
	Initiate *domain.InitiateRedemptionRequest `json:"initiate,omitempty"`
	Verify   *domain.VerifyRedemptionRequest   `json:"verify,omitempty"`
	List     *domain.ListCouponsRequest        `json:"list,omitempty"`
}

type ResponsePayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	Coupon     *domain.Coupon           `json:"coupon,omitempty"`
	Claim      *domain.Claim            `json:"claim,omitempty"`
	Ticket     *domain.RedemptionTicket `json:"ticket,omitempty"`
	Redemption *domain.RedemptionResult `json:"redemption,omitempty"`
	Listings   []domain.CouponListing   `json:"listings,omitempty"`
}
