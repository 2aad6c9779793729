package http

import (
	"errors"
	"net/http"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/rs/zerolog/hlog"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrUnauthenticated, http.StatusUnauthorized},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrSelfClaimForbidden, http.StatusForbidden},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrAlreadyClaimed, http.StatusConflict},
	{domain.ErrCapacityExceeded, http.StatusConflict},
	{domain.ErrInvalidState, http.StatusConflict},
	{domain.ErrAlreadyRedeemed, http.StatusConflict},
	{domain.ErrNotYetActive, http.StatusConflict},
	{domain.ErrHasClaims, http.StatusConflict},
	{domain.ErrExpired, http.StatusGone},
	{domain.ErrLocationRequired, http.StatusBadRequest},
	{domain.ErrLocationMismatch, http.StatusBadRequest},
	{domain.ErrInvalidRequest, http.StatusBadRequest},
	{domain.ErrTransactionFailed, http.StatusServiceUnavailable},
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrTransactionFailed):
		msg = domain.ErrTransactionFailed.Error()
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	case status == http.StatusInternalServerError:
		msg = "internal server error"
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}

	http.Error(w, msg, status)
}
