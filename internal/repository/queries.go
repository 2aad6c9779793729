package repository

import (
	"context"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const couponColumns = `id, business_id, title, description, coupon_type, max_claims, current_claims,
	current_redemption, start_date, end_date, redemption_window_minutes, created_at`

func scanCoupon(row pgx.Row) (domain.Coupon, error) {
	var c domain.Coupon
	var couponType string
	err := row.Scan(
		&c.ID,
		&c.BusinessID,
		&c.Title,
		&c.Description,
		&couponType,
		&c.MaxClaims,
		&c.CurrentClaims,
		&c.CurrentRedemption,
		&c.StartDate,
		&c.EndDate,
		&c.RedemptionWindowMinutes,
		&c.CreatedAt,
	)
	c.Type = domain.CouponType(couponType)
	return c, err
}

const claimColumns = `id, user_id, coupon_id, status, claimed_at, redeemed_at, expired_at`

func scanClaim(row pgx.Row) (domain.Claim, error) {
	var c domain.Claim
	var status string
	err := row.Scan(&c.ID, &c.UserID, &c.CouponID, &status, &c.ClaimedAt, &c.RedeemedAt, &c.ExpiredAt)
	c.Status = domain.ClaimStatus(status)
	return c, err
}

const requestColumns = `id, claim_id, coupon_id, user_id, business_location_id, verification_code,
	status, expires_at, created_at, completed_at`

func scanRequest(row pgx.Row) (domain.RedemptionRequest, error) {
	var r domain.RedemptionRequest
	var location pgtype.UUID
	var status string
	err := row.Scan(
		&r.ID,
		&r.ClaimID,
		&r.CouponID,
		&r.UserID,
		&location,
		&r.VerificationCode,
		&status,
		&r.ExpiresAt,
		&r.CreatedAt,
		&r.CompletedAt,
	)
	if location.Valid {
		id := uuid.UUID(location.Bytes)
		r.BusinessLocationID = &id
	}
	r.Status = domain.RequestStatus(status)
	return r, err
}

const getBusiness = `SELECT id, owner_user_id, name, area FROM businesses WHERE id = $1`

func (q *Queries) GetBusiness(ctx context.Context, id uuid.UUID) (domain.Business, error) {
	var b domain.Business
	err := q.db.QueryRow(ctx, getBusiness, id).Scan(&b.ID, &b.OwnerUserID, &b.Name, &b.Area)
	return b, err
}

const getBusinessLocation = `SELECT id, business_id, name, address FROM business_locations WHERE id = $1`

func (q *Queries) GetBusinessLocation(ctx context.Context, id uuid.UUID) (domain.BusinessLocation, error) {
	var l domain.BusinessLocation
	err := q.db.QueryRow(ctx, getBusinessLocation, id).Scan(&l.ID, &l.BusinessID, &l.Name, &l.Address)
	return l, err
}

const getCoupon = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

func (q *Queries) GetCoupon(ctx context.Context, id uuid.UUID) (domain.Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, getCoupon, id))
}

type InsertCouponParams struct {
	ID                      uuid.UUID
	BusinessID              uuid.UUID
	Title                   string
	Description             string
	Type                    domain.CouponType
	MaxClaims               int
	StartDate               time.Time
	EndDate                 time.Time
	RedemptionWindowMinutes int
}

const insertCoupon = `INSERT INTO coupons (id, business_id, title, description, coupon_type, max_claims,
	start_date, end_date, redemption_window_minutes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + couponColumns

func (q *Queries) InsertCoupon(ctx context.Context, arg InsertCouponParams) (domain.Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, insertCoupon,
		arg.ID,
		arg.BusinessID,
		arg.Title,
		arg.Description,
		string(arg.Type),
		arg.MaxClaims,
		arg.StartDate,
		arg.EndDate,
		arg.RedemptionWindowMinutes,
	))
}

const deleteUnclaimedCoupon = `DELETE FROM coupons WHERE id = $1 AND current_claims = 0`

func (q *Queries) DeleteUnclaimedCoupon(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteUnclaimedCoupon, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type InsertClaimParams struct {
	ID        uuid.UUID
	UserID    string
	CouponID  uuid.UUID
	ClaimedAt time.Time
}

// The conflict target names the partial unique index predicate, so a second
// live claim for the same pair inserts nothing instead of failing the tx.
const insertClaim = `INSERT INTO user_coupons (id, user_id, coupon_id, status, claimed_at)
VALUES ($1, $2, $3, 'claimed', $4)
ON CONFLICT (user_id, coupon_id) WHERE status <> 'expired' DO NOTHING`

func (q *Queries) InsertClaim(ctx context.Context, arg InsertClaimParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertClaim, arg.ID, arg.UserID, arg.CouponID, arg.ClaimedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const incrementClaims = `UPDATE coupons
SET current_claims = current_claims + 1
WHERE id = $1 AND current_claims < max_claims
RETURNING ` + couponColumns

// IncrementClaims returns pgx.ErrNoRows when the coupon has no capacity left.
func (q *Queries) IncrementClaims(ctx context.Context, couponID uuid.UUID) (domain.Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, incrementClaims, couponID))
}

const getClaim = `SELECT ` + claimColumns + ` FROM user_coupons WHERE id = $1`

func (q *Queries) GetClaim(ctx context.Context, id uuid.UUID) (domain.Claim, error) {
	return scanClaim(q.db.QueryRow(ctx, getClaim, id))
}

type TransitionClaimParams struct {
	ID   uuid.UUID
	From domain.ClaimStatus
	To   domain.ClaimStatus
	At   time.Time
}

const transitionClaim = `UPDATE user_coupons
SET status = $3::text,
	redeemed_at = CASE WHEN $3::text = 'redeemed' THEN $4::timestamptz ELSE redeemed_at END,
	expired_at = CASE WHEN $3::text = 'expired' THEN $4::timestamptz ELSE expired_at END
WHERE id = $1 AND status = $2::text`

// TransitionClaim moves a claim from one status to another only if it is
// still in From. Zero rows affected means another request got there first.
func (q *Queries) TransitionClaim(ctx context.Context, arg TransitionClaimParams) (int64, error) {
	tag, err := q.db.Exec(ctx, transitionClaim, arg.ID, string(arg.From), string(arg.To), arg.At)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type InsertRedemptionRequestParams struct {
	ID                 uuid.UUID
	ClaimID            uuid.UUID
	CouponID           uuid.UUID
	UserID             string
	BusinessLocationID *uuid.UUID
	VerificationCode   string
	ExpiresAt          time.Time
	CreatedAt          time.Time
}

const insertRedemptionRequest = `INSERT INTO coupon_requests (id, claim_id, coupon_id, user_id,
	business_location_id, verification_code, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8)
ON CONFLICT (verification_code) DO NOTHING`

// InsertRedemptionRequest returns 0 rows affected when the verification code
// collides with an existing one.
func (q *Queries) InsertRedemptionRequest(ctx context.Context, arg InsertRedemptionRequestParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertRedemptionRequest,
		arg.ID,
		arg.ClaimID,
		arg.CouponID,
		arg.UserID,
		arg.BusinessLocationID,
		arg.VerificationCode,
		arg.ExpiresAt,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getOpenRequestByClaim = `SELECT ` + requestColumns + ` FROM coupon_requests
WHERE claim_id = $1 AND status = 'pending'
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetOpenRequestByClaim(ctx context.Context, claimID uuid.UUID) (domain.RedemptionRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, getOpenRequestByClaim, claimID))
}

const getRequestByCode = `SELECT ` + requestColumns + ` FROM coupon_requests WHERE verification_code = $1`

func (q *Queries) GetRequestByCode(ctx context.Context, code string) (domain.RedemptionRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, getRequestByCode, code))
}

const getRequestByID = `SELECT ` + requestColumns + ` FROM coupon_requests WHERE id = $1`

func (q *Queries) GetRequestByID(ctx context.Context, id uuid.UUID) (domain.RedemptionRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, getRequestByID, id))
}

const completeRequest = `UPDATE coupon_requests
SET status = 'completed', completed_at = $2
WHERE id = $1 AND status = 'pending' AND expires_at > $2`

// CompleteRequest is the first-writer-wins step of verification: only one
// caller can move a pending, unexpired request to completed.
func (q *Queries) CompleteRequest(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, completeRequest, id, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const expireRequest = `UPDATE coupon_requests SET status = 'expired' WHERE id = $1 AND status = 'pending'`

func (q *Queries) ExpireRequest(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, expireRequest, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const incrementRedemption = `UPDATE coupons
SET current_redemption = current_redemption + 1
WHERE id = $1 AND current_redemption < current_claims
RETURNING ` + couponColumns

// IncrementRedemption returns pgx.ErrNoRows if the increment would push
// current_redemption past current_claims.
func (q *Queries) IncrementRedemption(ctx context.Context, couponID uuid.UUID) (domain.Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, incrementRedemption, couponID))
}

type ListActiveCouponsParams struct {
	Now        time.Time
	Area       string
	BusinessID *uuid.UUID
	Limit      int
	Offset     int
}

const listActiveCoupons = `SELECT c.id, c.business_id, c.title, c.description, c.coupon_type, c.max_claims,
	c.current_claims, c.current_redemption, c.start_date, c.end_date, c.redemption_window_minutes,
	c.created_at, b.name, b.area
FROM coupons c
JOIN businesses b ON b.id = c.business_id
WHERE c.start_date <= $1 AND c.end_date >= $1
	AND ($2::text = '' OR lower(b.area) = lower($2::text))
	AND ($3::uuid IS NULL OR c.business_id = $3::uuid)
ORDER BY c.end_date ASC, c.id ASC
LIMIT $4 OFFSET $5`

func (q *Queries) ListActiveCoupons(ctx context.Context, arg ListActiveCouponsParams) ([]domain.CouponListing, error) {
	rows, err := q.db.Query(ctx, listActiveCoupons, arg.Now, arg.Area, arg.BusinessID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []domain.CouponListing
	for rows.Next() {
		var l domain.CouponListing
		var couponType string
		if err := rows.Scan(
			&l.ID,
			&l.BusinessID,
			&l.Title,
			&l.Description,
			&couponType,
			&l.MaxClaims,
			&l.CurrentClaims,
			&l.CurrentRedemption,
			&l.StartDate,
			&l.EndDate,
			&l.RedemptionWindowMinutes,
			&l.CreatedAt,
			&l.BusinessName,
			&l.Area,
		); err != nil {
			return nil, err
		}
		l.Type = domain.CouponType(couponType)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

const listLiveClaimedCouponIDs = `SELECT coupon_id FROM user_coupons
WHERE user_id = $1 AND coupon_id = ANY($2::uuid[]) AND status <> 'expired'`

func (q *Queries) ListLiveClaimedCouponIDs(ctx context.Context, userID string, couponIDs []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, listLiveClaimedCouponIDs, userID, couponIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

const expireElapsedRequests = `WITH elapsed AS (
	UPDATE coupon_requests SET status = 'expired'
	WHERE status = 'pending' AND expires_at <= $1
	RETURNING claim_id
)
UPDATE user_coupons SET status = 'expired', expired_at = $1
WHERE id IN (SELECT claim_id FROM elapsed) AND status = 'pending_verification'`

// ExpireElapsedRequests expires pending requests past expires_at and the
// claims waiting on them. It reports the number of claims expired.
func (q *Queries) ExpireElapsedRequests(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, expireElapsedRequests, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const expireEndedClaims = `WITH ended AS (
	UPDATE user_coupons uc SET status = 'expired', expired_at = $1
	FROM coupons c
	WHERE c.id = uc.coupon_id AND c.end_date < $1
		AND uc.status IN ('claimed', 'pending_verification')
	RETURNING uc.id
), closed AS (
	UPDATE coupon_requests SET status = 'expired'
	WHERE claim_id IN (SELECT id FROM ended) AND status = 'pending'
)
SELECT count(*) FROM ended`

// ExpireEndedClaims expires open claims on coupons past their end date along
// with their pending redemption requests. It reports the number of claims
// expired.
func (q *Queries) ExpireEndedClaims(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, expireEndedClaims, now).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
