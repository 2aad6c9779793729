package usecase

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memState mirrors the Postgres schema closely enough for service tests:
// the partial unique index on live claims, the unique verification code and
// every conditional update behave like their SQL counterparts.
type memState struct {
	memTables

	incrementClaimsFn func() error
	listCalls         atomic.Int64
}

type memTables struct {
	businesses map[uuid.UUID]domain.Business
	locations  map[uuid.UUID]domain.BusinessLocation
	coupons    map[uuid.UUID]domain.Coupon
	claims     map[uuid.UUID]domain.Claim
	requests   map[uuid.UUID]domain.RedemptionRequest
}

func (s *memState) snapshot() memTables {
	return memTables{
		businesses: maps.Clone(s.businesses),
		locations:  maps.Clone(s.locations),
		coupons:    maps.Clone(s.coupons),
		claims:     maps.Clone(s.claims),
		requests:   maps.Clone(s.requests),
	}
}

func (s *memState) restore(snap memTables) {
	s.memTables = snap
}

func (s *memState) GetBusiness(ctx context.Context, id uuid.UUID) (domain.Business, error) {
	b, ok := s.businesses[id]
	if !ok {
		return domain.Business{}, pgx.ErrNoRows
	}
	return b, nil
}

func (s *memState) GetBusinessLocation(ctx context.Context, id uuid.UUID) (domain.BusinessLocation, error) {
	l, ok := s.locations[id]
	if !ok {
		return domain.BusinessLocation{}, pgx.ErrNoRows
	}
	return l, nil
}

func (s *memState) GetCoupon(ctx context.Context, id uuid.UUID) (domain.Coupon, error) {
	c, ok := s.coupons[id]
	if !ok {
		return domain.Coupon{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *memState) InsertCoupon(ctx context.Context, arg repository.InsertCouponParams) (domain.Coupon, error) {
	if _, ok := s.businesses[arg.BusinessID]; !ok {
		return domain.Coupon{}, errors.New("violates foreign key constraint coupons_business_id_fkey")
	}
	c := domain.Coupon{
		ID:                      arg.ID,
		BusinessID:              arg.BusinessID,
		Title:                   arg.Title,
		Description:             arg.Description,
		Type:                    arg.Type,
		MaxClaims:               arg.MaxClaims,
		StartDate:               arg.StartDate,
		EndDate:                 arg.EndDate,
		RedemptionWindowMinutes: arg.RedemptionWindowMinutes,
		CreatedAt:               time.Now(),
	}
	s.coupons[c.ID] = c
	return c, nil
}

func (s *memState) DeleteUnclaimedCoupon(ctx context.Context, id uuid.UUID) (int64, error) {
	c, ok := s.coupons[id]
	if !ok || c.CurrentClaims != 0 {
		return 0, nil
	}
	delete(s.coupons, id)
	return 1, nil
}

func (s *memState) InsertClaim(ctx context.Context, arg repository.InsertClaimParams) (int64, error) {
	if _, ok := s.coupons[arg.CouponID]; !ok {
		return 0, errors.New("violates foreign key constraint user_coupons_coupon_id_fkey")
	}
	for _, c := range s.claims {
		if c.UserID == arg.UserID && c.CouponID == arg.CouponID && c.Status != domain.StatusExpired {
			return 0, nil
		}
	}
	s.claims[arg.ID] = domain.Claim{
		ID:        arg.ID,
		UserID:    arg.UserID,
		CouponID:  arg.CouponID,
		Status:    domain.StatusClaimed,
		ClaimedAt: arg.ClaimedAt,
	}
	return 1, nil
}

func (s *memState) IncrementClaims(ctx context.Context, couponID uuid.UUID) (domain.Coupon, error) {
	if s.incrementClaimsFn != nil {
		if err := s.incrementClaimsFn(); err != nil {
			return domain.Coupon{}, err
		}
	}
	c, ok := s.coupons[couponID]
	if !ok || c.CurrentClaims >= c.MaxClaims {
		return domain.Coupon{}, pgx.ErrNoRows
	}
	c.CurrentClaims++
	s.coupons[couponID] = c
	return c, nil
}

func (s *memState) GetClaim(ctx context.Context, id uuid.UUID) (domain.Claim, error) {
	c, ok := s.claims[id]
	if !ok {
		return domain.Claim{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *memState) TransitionClaim(ctx context.Context, arg repository.TransitionClaimParams) (int64, error) {
	c, ok := s.claims[arg.ID]
	if !ok || c.Status != arg.From {
		return 0, nil
	}
	c.Status = arg.To
	at := arg.At
	switch arg.To {
	case domain.StatusRedeemed:
		c.RedeemedAt = &at
	case domain.StatusExpired:
		c.ExpiredAt = &at
	}
	s.claims[arg.ID] = c
	return 1, nil
}

func (s *memState) InsertRedemptionRequest(ctx context.Context, arg repository.InsertRedemptionRequestParams) (int64, error) {
	for _, r := range s.requests {
		if r.VerificationCode == arg.VerificationCode {
			return 0, nil
		}
	}
	s.requests[arg.ID] = domain.RedemptionRequest{
		ID:                 arg.ID,
		ClaimID:            arg.ClaimID,
		CouponID:           arg.CouponID,
		UserID:             arg.UserID,
		BusinessLocationID: arg.BusinessLocationID,
		VerificationCode:   arg.VerificationCode,
		Status:             domain.RequestPending,
		ExpiresAt:          arg.ExpiresAt,
		CreatedAt:          arg.CreatedAt,
	}
	return 1, nil
}

func (s *memState) GetOpenRequestByClaim(ctx context.Context, claimID uuid.UUID) (domain.RedemptionRequest, error) {
	var (
		found domain.RedemptionRequest
		ok    bool
	)
	for _, r := range s.requests {
		if r.ClaimID == claimID && r.Status == domain.RequestPending && (!ok || r.CreatedAt.After(found.CreatedAt)) {
			found, ok = r, true
		}
	}
	if !ok {
		return domain.RedemptionRequest{}, pgx.ErrNoRows
	}
	return found, nil
}

func (s *memState) GetRequestByCode(ctx context.Context, code string) (domain.RedemptionRequest, error) {
	for _, r := range s.requests {
		if r.VerificationCode == code {
			return r, nil
		}
	}
	return domain.RedemptionRequest{}, pgx.ErrNoRows
}

func (s *memState) GetRequestByID(ctx context.Context, id uuid.UUID) (domain.RedemptionRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return domain.RedemptionRequest{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *memState) CompleteRequest(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	r, ok := s.requests[id]
	if !ok || r.Status != domain.RequestPending || !r.ExpiresAt.After(at) {
		return 0, nil
	}
	r.Status = domain.RequestCompleted
	r.CompletedAt = &at
	s.requests[id] = r
	return 1, nil
}

func (s *memState) ExpireRequest(ctx context.Context, id uuid.UUID) (int64, error) {
	r, ok := s.requests[id]
	if !ok || r.Status != domain.RequestPending {
		return 0, nil
	}
	r.Status = domain.RequestExpired
	s.requests[id] = r
	return 1, nil
}

func (s *memState) IncrementRedemption(ctx context.Context, couponID uuid.UUID) (domain.Coupon, error) {
	c, ok := s.coupons[couponID]
	if !ok || c.CurrentRedemption >= c.CurrentClaims {
		return domain.Coupon{}, pgx.ErrNoRows
	}
	c.CurrentRedemption++
	s.coupons[couponID] = c
	return c, nil
}

func (s *memState) ListActiveCoupons(ctx context.Context, arg repository.ListActiveCouponsParams) ([]domain.CouponListing, error) {
	s.listCalls.Add(1)

	var out []domain.CouponListing
	for _, c := range s.coupons {
		if arg.Now.Before(c.StartDate) || arg.Now.After(c.EndDate) {
			continue
		}
		b := s.businesses[c.BusinessID]
		if arg.Area != "" && !strings.EqualFold(b.Area, arg.Area) {
			continue
		}
		if arg.BusinessID != nil && c.BusinessID != *arg.BusinessID {
			continue
		}
		out = append(out, domain.CouponListing{Coupon: c, BusinessName: b.Name, Area: b.Area})
	}
	slices.SortFunc(out, func(a, b domain.CouponListing) int {
		if n := a.EndDate.Compare(b.EndDate); n != 0 {
			return n
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	if arg.Offset >= len(out) {
		return nil, nil
	}
	out = out[arg.Offset:]
	if len(out) > arg.Limit {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (s *memState) ListLiveClaimedCouponIDs(ctx context.Context, userID string, couponIDs []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, c := range s.claims {
		if c.UserID == userID && c.Status != domain.StatusExpired && slices.Contains(couponIDs, c.CouponID) {
			out = append(out, c.CouponID)
		}
	}
	return out, nil
}

func (s *memState) ExpireElapsedRequests(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, r := range s.requests {
		if r.Status != domain.RequestPending || r.ExpiresAt.After(now) {
			continue
		}
		r.Status = domain.RequestExpired
		s.requests[id] = r
		if c, ok := s.claims[r.ClaimID]; ok && c.Status == domain.StatusPendingVerification {
			c.Status = domain.StatusExpired
			c.ExpiredAt = &now
			s.claims[c.ID] = c
			n++
		}
	}
	return n, nil
}

func (s *memState) ExpireEndedClaims(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, c := range s.claims {
		coupon := s.coupons[c.CouponID]
		if c.Status.Terminal() || !coupon.EndDate.Before(now) {
			continue
		}
		c.Status = domain.StatusExpired
		c.ExpiredAt = &now
		s.claims[id] = c
		n++
		for rid, r := range s.requests {
			if r.ClaimID == id && r.Status == domain.RequestPending {
				r.Status = domain.RequestExpired
				s.requests[rid] = r
			}
		}
	}
	return n, nil
}

// memStore serializes transactions with a single lock and rolls back to a
// snapshot when fn fails.
type memStore struct {
	mu sync.Mutex
	*memState
}

var _ repository.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{memState: &memState{memTables: memTables{
		businesses: make(map[uuid.UUID]domain.Business),
		locations:  make(map[uuid.UUID]domain.BusinessLocation),
		coupons:    make(map[uuid.UUID]domain.Coupon),
		claims:     make(map[uuid.UUID]domain.Claim),
		requests:   make(map[uuid.UUID]domain.RedemptionRequest),
	}}}
}

func (m *memStore) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(m.memState); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) GetBusiness(ctx context.Context, id uuid.UUID) (domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.GetBusiness(ctx, id)
}

func (m *memStore) InsertCoupon(ctx context.Context, arg repository.InsertCouponParams) (domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.InsertCoupon(ctx, arg)
}

func (m *memStore) ListActiveCoupons(ctx context.Context, arg repository.ListActiveCouponsParams) ([]domain.CouponListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.ListActiveCoupons(ctx, arg)
}

func (m *memStore) ListLiveClaimedCouponIDs(ctx context.Context, userID string, couponIDs []uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.ListLiveClaimedCouponIDs(ctx, userID, couponIDs)
}

func (m *memStore) ExpireElapsedRequests(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.ExpireElapsedRequests(ctx, now)
}

func (m *memStore) ExpireEndedClaims(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memState.ExpireEndedClaims(ctx, now)
}

func (m *memStore) coupon(id uuid.UUID) domain.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[id]
}

func (m *memStore) claim(id uuid.UUID) domain.Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[id]
}

func (m *memStore) request(id uuid.UUID) domain.RedemptionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id]
}

func (m *memStore) setCouponEnd(id uuid.UUID, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coupons[id]
	c.EndDate = end
	m.coupons[id] = c
}

func (m *memStore) addBusiness(owner, area string) domain.Business {
	b := domain.Business{ID: uuid.New(), OwnerUserID: owner, Name: owner + "'s shop", Area: area}
	m.businesses[b.ID] = b
	return b
}

func (m *memStore) addLocation(businessID uuid.UUID) domain.BusinessLocation {
	l := domain.BusinessLocation{ID: uuid.New(), BusinessID: businessID, Name: "main street"}
	m.locations[l.ID] = l
	return l
}

func (m *memStore) addCoupon(c domain.Coupon) domain.Coupon {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.coupons[c.ID] = c
	return c
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memCache struct {
	mu          sync.Mutex
	entries     map[string][]domain.CouponListing
	invalidated []uuid.UUID
	flushes     int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]domain.CouponListing)}
}

func (c *memCache) Get(ctx context.Context, f domain.ListFilter) ([]domain.CouponListing, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.entries[f.CacheKey()]
	return l, ok, nil
}

func (c *memCache) Set(ctx context.Context, f domain.ListFilter, l []domain.CouponListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[f.CacheKey()] = l
	return nil
}

func (c *memCache) InvalidateCoupon(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
	for key, listings := range c.entries {
		for _, l := range listings {
			if l.ID == id {
				delete(c.entries, key)
				break
			}
		}
	}
	return nil
}

func (c *memCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	clear(c.entries)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.CouponEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.CouponEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store     *memStore
	clock     *testClock
	cache     *memCache
	publisher *recordingPublisher
	svc       *CouponService

	business domain.Business
	location domain.BusinessLocation
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store:     newMemStore(),
		clock:     newTestClock(),
		cache:     newMemCache(),
		publisher: &recordingPublisher{},
	}
	f.business = f.store.addBusiness("owner-1", "Makati")
	f.location = f.store.addLocation(f.business.ID)

	base := []Option{
		WithClock(f.clock.Now),
		WithCache(f.cache),
		WithPublisher(f.publisher),
	}
	f.svc = NewCouponService(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) storeCoupon(maxClaims, windowMinutes int) domain.Coupon {
	now := f.clock.Now()
	return f.store.addCoupon(domain.Coupon{
		BusinessID:              f.business.ID,
		Title:                   "Free coffee",
		Type:                    domain.CouponTypeStore,
		MaxClaims:               maxClaims,
		StartDate:               now.Add(-time.Hour),
		EndDate:                 now.Add(24 * time.Hour),
		RedemptionWindowMinutes: windowMinutes,
	})
}

func (f *fixture) onlineCoupon(maxClaims int) domain.Coupon {
	now := f.clock.Now()
	return f.store.addCoupon(domain.Coupon{
		BusinessID: f.business.ID,
		Title:      "10% off online",
		Type:       domain.CouponTypeOnline,
		MaxClaims:  maxClaims,
		StartDate:  now.Add(-time.Hour),
		EndDate:    now.Add(30 * 24 * time.Hour),
	})
}

func (f *fixture) claim(t *testing.T, userID string, couponID uuid.UUID) domain.Claim {
	t.Helper()
	c, err := f.svc.ClaimCoupon(context.Background(), domain.ClaimRequest{UserID: userID, CouponID: couponID})
	if err != nil {
		t.Fatalf("claim: expected no error, got %v", err)
	}
	return *c
}

func (f *fixture) initiate(t *testing.T, c domain.Claim, loc *uuid.UUID) domain.RedemptionTicket {
	t.Helper()
	ticket, err := f.svc.InitiateRedemption(context.Background(), domain.InitiateRedemptionRequest{
		UserID:             c.UserID,
		CouponID:           c.CouponID,
		ClaimID:            c.ID,
		BusinessLocationID: loc,
	})
	if err != nil {
		t.Fatalf("initiate: expected no error, got %v", err)
	}
	return *ticket
}
