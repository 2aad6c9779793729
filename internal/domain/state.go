package domain

import "fmt"

// ClaimStatus is the lifecycle state of a user_coupons row.
//
//	claimed --initiate--> pending_verification --verify--> redeemed
//	claimed --expire----> expired
//	pending_verification --expire--> expired
type ClaimStatus string

const (
	StatusClaimed             ClaimStatus = "claimed"
	StatusPendingVerification ClaimStatus = "pending_verification"
	StatusRedeemed            ClaimStatus = "redeemed"
	StatusExpired             ClaimStatus = "expired"
)

type ClaimEvent string

const (
	EventInitiateRedemption ClaimEvent = "initiate_redemption"
	EventVerify             ClaimEvent = "verify"
	EventExpire             ClaimEvent = "expire"
)

var claimTransitions = map[ClaimStatus]map[ClaimEvent]ClaimStatus{
	StatusClaimed: {
		EventInitiateRedemption: StatusPendingVerification,
		EventExpire:             StatusExpired,
	},
	StatusPendingVerification: {
		EventVerify: StatusRedeemed,
		EventExpire: StatusExpired,
	},
}

// Transition returns the state reached by applying ev to from. Every status
// change on a claim goes through here; anything not in the table is rejected
// with ErrInvalidState.
func Transition(from ClaimStatus, ev ClaimEvent) (ClaimStatus, error) {
	if to, ok := claimTransitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: cannot %s a %s claim", ErrInvalidState, ev, from)
}

func (s ClaimStatus) Valid() bool {
	switch s {
	case StatusClaimed, StatusPendingVerification, StatusRedeemed, StatusExpired:
		return true
	}
	return false
}

func (s ClaimStatus) Terminal() bool {
	return s == StatusRedeemed || s == StatusExpired
}

// Active reports whether the claim still holds the user's slot on the coupon.
// Redeemed claims stay active; only expired ones free the (user, coupon) pair.
func (s ClaimStatus) Active() bool {
	return s != StatusExpired
}
