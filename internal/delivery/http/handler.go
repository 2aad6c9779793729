package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/auth"
	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CreateCouponRequest struct {
	BusinessID              string            `json:"business_id"`
	Title                   string            `json:"title"`
	Description             string            `json:"description"`
	Type                    domain.CouponType `json:"type"`
	MaxClaims               int               `json:"max_claims"`
	StartDate               time.Time         `json:"start_date"`
	EndDate                 time.Time         `json:"end_date"`
	RedemptionWindowMinutes int               `json:"redemption_window_minutes"`
}

type InitiateRedemptionRequest struct {
	ClaimID            string `json:"claim_id"`
	BusinessLocationID string `json:"business_location_id"`
}

type VerifyRedemptionRequest struct {
	VerificationCode string `json:"verification_code"`
	RequestID        string `json:"request_id"`
}

type ClaimResponse struct {
	ClaimID   uuid.UUID          `json:"claim_id"`
	CouponID  uuid.UUID          `json:"coupon_id"`
	Status    domain.ClaimStatus `json:"status"`
	ClaimedAt time.Time          `json:"claimed_at"`
}

type ListResponse struct {
	Coupons []domain.CouponListing `json:"coupons"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type Handler struct {
	gateway usecase.CouponGateway
}

func NewHandler(gateway usecase.CouponGateway) *Handler {
	return &Handler{gateway: gateway}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/coupons", h.ListCoupons)
		r.Post("/coupons", h.CreateCoupon)
		r.Delete("/coupons/{couponID}", h.DeleteCoupon)
		r.Post("/coupons/{couponID}/claim", h.ClaimCoupon)
		r.Post("/coupons/{couponID}/redemptions", h.InitiateRedemption)
		r.Post("/redemptions/verify", h.VerifyRedemption)
	})
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := domain.NewListFilter(q.Get("area"), q.Get("business_id"), q.Get("limit"), q.Get("offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	listings, err := h.gateway.ListCoupons(r.Context(), domain.ListCouponsRequest{
		UserID: auth.UserIDFromContext(r.Context()),
		Filter: filter,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if listings == nil {
		listings = []domain.CouponListing{}
	}

	writeJSON(w, http.StatusOK, ListResponse{Coupons: listings, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.UserIDFromContext(r.Context())
	if ownerID == "" {
		writeError(w, r, domain.ErrUnauthenticated)
		return
	}

	var body CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	businessID, err := uuid.Parse(body.BusinessID)
	if err != nil {
		http.Error(w, "business_id is not a valid id", http.StatusBadRequest)
		return
	}

	coupon, err := h.gateway.CreateCoupon(r.Context(), domain.CreateCouponRequest{
		OwnerID:                 ownerID,
		BusinessID:              businessID,
		Title:                   body.Title,
		Description:             body.Description,
		Type:                    body.Type,
		MaxClaims:               body.MaxClaims,
		StartDate:               body.StartDate,
		EndDate:                 body.EndDate,
		RedemptionWindowMinutes: body.RedemptionWindowMinutes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, coupon)
}

func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := domain.NewDeleteCouponRequest(auth.UserIDFromContext(r.Context()), chi.URLParam(r, "couponID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.gateway.DeleteCoupon(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClaimCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := domain.NewClaimRequest(auth.UserIDFromContext(r.Context()), chi.URLParam(r, "couponID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	claim, err := h.gateway.ClaimCoupon(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ClaimResponse{
		ClaimID:   claim.ID,
		CouponID:  claim.CouponID,
		Status:    claim.Status,
		ClaimedAt: claim.ClaimedAt,
	})
}

func (h *Handler) InitiateRedemption(w http.ResponseWriter, r *http.Request) {
	var body InitiateRedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, err := domain.NewInitiateRedemptionRequest(
		auth.UserIDFromContext(r.Context()),
		chi.URLParam(r, "couponID"),
		body.ClaimID,
		body.BusinessLocationID,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ticket, err := h.gateway.InitiateRedemption(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) VerifyRedemption(w http.ResponseWriter, r *http.Request) {
	var body VerifyRedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req, err := domain.NewVerifyRedemptionRequest(body.VerificationCode, body.RequestID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.gateway.VerifyRedemption(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
