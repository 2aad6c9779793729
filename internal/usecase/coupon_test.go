package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/repository"
	"github.com/google/uuid"
)

func TestCreateCoupon_Success(t *testing.T) {
	f := newFixture()
	now := f.clock.Now()

	coupon, err := f.svc.CreateCoupon(context.Background(), domain.CreateCouponRequest{
		OwnerID:    f.business.OwnerUserID,
		BusinessID: f.business.ID,
		Title:      "  Buy one get one  ",
		Type:       domain.CouponTypeStore,
		MaxClaims:  100,
		StartDate:  now,
		EndDate:    now.Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if coupon.Title != "Buy one get one" {
		t.Fatalf("expected trimmed title, got %q", coupon.Title)
	}
	if coupon.RedemptionWindowMinutes != domain.DefaultStoreRedemptionWindow {
		t.Fatalf("expected default window, got %d", coupon.RedemptionWindowMinutes)
	}
	if coupon.CurrentClaims != 0 || coupon.CurrentRedemption != 0 {
		t.Fatalf("expected zero counters, got %+v", coupon)
	}
	if f.cache.flushes != 1 {
		t.Fatalf("expected listing cache flush, got %d", f.cache.flushes)
	}
	if types := f.publisher.types(); len(types) != 1 || types[0] != domain.EventCouponCreated {
		t.Fatalf("expected coupon.created event, got %v", types)
	}
}

func TestCreateCoupon_Rejections(t *testing.T) {
	f := newFixture()
	now := f.clock.Now()
	valid := domain.CreateCouponRequest{
		OwnerID:    f.business.OwnerUserID,
		BusinessID: f.business.ID,
		Title:      "Free fries",
		Type:       domain.CouponTypeOnline,
		MaxClaims:  5,
		StartDate:  now,
		EndDate:    now.Add(time.Hour),
	}

	notOwner := valid
	notOwner.OwnerID = "someone-else"
	if _, err := f.svc.CreateCoupon(context.Background(), notOwner); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	unknown := valid
	unknown.BusinessID = uuid.New()
	if _, err := f.svc.CreateCoupon(context.Background(), unknown); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	zero := valid
	zero.MaxClaims = 0
	if _, err := f.svc.CreateCoupon(context.Background(), zero); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestDeleteCoupon(t *testing.T) {
	f := newFixture()
	unclaimed := f.storeCoupon(10, 10)
	claimed := f.storeCoupon(10, 10)
	f.claim(t, "user-1", claimed.ID)

	err := f.svc.DeleteCoupon(context.Background(), domain.DeleteCouponRequest{OwnerID: "user-1", CouponID: unclaimed.ID})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	err = f.svc.DeleteCoupon(context.Background(), domain.DeleteCouponRequest{OwnerID: f.business.OwnerUserID, CouponID: claimed.ID})
	if !errors.Is(err, domain.ErrHasClaims) {
		t.Fatalf("expected ErrHasClaims, got %v", err)
	}

	err = f.svc.DeleteCoupon(context.Background(), domain.DeleteCouponRequest{OwnerID: f.business.OwnerUserID, CouponID: unclaimed.ID})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.ClaimCoupon(context.Background(), domain.ClaimRequest{UserID: "user-2", CouponID: unclaimed.ID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted coupon to be gone, got %v", err)
	}

	err = f.svc.DeleteCoupon(context.Background(), domain.DeleteCouponRequest{OwnerID: f.business.OwnerUserID, CouponID: uuid.New()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCoupons_ClaimedFlag(t *testing.T) {
	f := newFixture()
	first := f.storeCoupon(10, 10)
	second := f.onlineCoupon(10)
	f.claim(t, "user-1", first.ID)

	anon, err := f.svc.ListCoupons(context.Background(), domain.ListCouponsRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(anon) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(anon))
	}
	for _, l := range anon {
		if l.IsClaimed != nil {
			t.Fatalf("anonymous listing carries is_claimed for %s", l.ID)
		}
		if l.BusinessName == "" || l.Area != "Makati" {
			t.Fatalf("expected business fields, got %+v", l)
		}
	}

	mine, err := f.svc.ListCoupons(context.Background(), domain.ListCouponsRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claimed := map[uuid.UUID]bool{}
	for _, l := range mine {
		if l.IsClaimed == nil {
			t.Fatalf("signed-in listing missing is_claimed for %s", l.ID)
		}
		claimed[l.ID] = *l.IsClaimed
	}
	if !claimed[first.ID] || claimed[second.ID] {
		t.Fatalf("unexpected claimed flags %v", claimed)
	}
}

func TestListCoupons_Cache(t *testing.T) {
	f := newFixture()
	coupon := f.storeCoupon(10, 10)
	req := domain.ListCouponsRequest{Filter: domain.ListFilter{Area: "makati"}}

	if _, err := f.svc.ListCoupons(context.Background(), req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := f.svc.ListCoupons(context.Background(), req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := f.store.listCalls.Load(); got != 1 {
		t.Fatalf("expected second listing to be served from cache, got %d store reads", got)
	}

	claim := f.claim(t, "user-1", coupon.ID)

	listings, err := f.svc.ListCoupons(context.Background(), domain.ListCouponsRequest{UserID: claim.UserID, Filter: req.Filter})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := f.store.listCalls.Load(); got != 2 {
		t.Fatalf("expected claim to invalidate the cached page, got %d store reads", got)
	}
	if len(listings) != 1 || listings[0].CurrentClaims != 1 || !*listings[0].IsClaimed {
		t.Fatalf("expected fresh listing, got %+v", listings)
	}
}

func TestListCoupons_Filters(t *testing.T) {
	f := newFixture()
	f.storeCoupon(10, 10)
	other := f.store.addBusiness("owner-2", "Taguig")
	now := f.clock.Now()
	taguig := f.store.addCoupon(domain.Coupon{
		BusinessID: other.ID,
		Type:       domain.CouponTypeOnline,
		MaxClaims:  3,
		StartDate:  now.Add(-time.Hour),
		EndDate:    now.Add(time.Hour),
	})
	f.store.addCoupon(domain.Coupon{
		BusinessID: other.ID,
		Type:       domain.CouponTypeOnline,
		MaxClaims:  3,
		StartDate:  now.Add(time.Hour),
		EndDate:    now.Add(2 * time.Hour),
	})

	byArea, err := f.svc.ListCoupons(context.Background(), domain.ListCouponsRequest{Filter: domain.ListFilter{Area: "TAGUIG"}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(byArea) != 1 || byArea[0].ID != taguig.ID {
		t.Fatalf("expected only the active Taguig coupon, got %+v", byArea)
	}

	byBusiness, err := f.svc.ListCoupons(context.Background(), domain.ListCouponsRequest{Filter: domain.ListFilter{BusinessID: &f.business.ID}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(byBusiness) != 1 || byBusiness[0].BusinessID != f.business.ID {
		t.Fatalf("expected one coupon for %s, got %+v", f.business.ID, byBusiness)
	}

	page, err := f.svc.ListCoupons(context.Background(), domain.ListCouponsRequest{Filter: domain.ListFilter{Limit: 1, Offset: 1}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected one row on the second page, got %d", len(page))
	}
}

func TestExpireStale(t *testing.T) {
	f := newFixture()
	short := f.storeCoupon(10, 5)
	pending := f.claim(t, "user-1", short.ID)
	ticket := f.initiate(t, pending, &f.location.ID)
	idle := f.claim(t, "user-2", short.ID)

	f.clock.Advance(6 * time.Minute)
	n, err := f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row expired, got %d", n)
	}
	if st := f.store.request(ticket.RequestID).Status; st != domain.RequestExpired {
		t.Fatalf("expected expired request, got %s", st)
	}
	if st := f.store.claim(pending.ID).Status; st != domain.StatusExpired {
		t.Fatalf("expected expired claim, got %s", st)
	}
	if st := f.store.claim(idle.ID).Status; st != domain.StatusClaimed {
		t.Fatalf("idle claim on a live coupon must stay claimed, got %s", st)
	}

	f.clock.Advance(48 * time.Hour)
	n, err = f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the idle claim counted, got %d", n)
	}
	if st := f.store.claim(idle.ID).Status; st != domain.StatusExpired {
		t.Fatalf("claims on ended coupons should expire, got %s", st)
	}
}

func TestExpireStale_CountsClaimsOnEndedCoupon(t *testing.T) {
	f := newFixture()
	coupon := f.storeCoupon(10, 5)
	var claims []domain.Claim
	for _, user := range []string{"user-1", "user-2", "user-3"} {
		claims = append(claims, f.claim(t, user, coupon.ID))
	}

	f.clock.Advance(48 * time.Hour)
	n, err := f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 claims expired, got %d", n)
	}
	for _, c := range claims {
		if st := f.store.claim(c.ID).Status; st != domain.StatusExpired {
			t.Fatalf("claim %s: expected expired, got %s", c.ID, st)
		}
	}
}

// blockingListStore holds ListActiveCoupons until release is closed and
// gives up early when its context ends, like a real query would.
type blockingListStore struct {
	*memStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingListStore) ListActiveCoupons(ctx context.Context, arg repository.ListActiveCouponsParams) ([]domain.CouponListing, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return s.memStore.ListActiveCoupons(ctx, arg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestListCoupons_SharedFillSurvivesCallerCancel(t *testing.T) {
	f := newFixture()
	f.storeCoupon(10, 5)
	store := &blockingListStore{memStore: f.store, started: make(chan struct{}), release: make(chan struct{})}
	svc := NewCouponService(store, WithClock(f.clock.Now))

	first, cancel := context.WithCancel(context.Background())
	type result struct {
		listings []domain.CouponListing
		err      error
	}
	firstDone := make(chan result, 1)
	go func() {
		l, err := svc.ListCoupons(first, domain.ListCouponsRequest{})
		firstDone <- result{l, err}
	}()

	<-store.started
	cancel()

	secondDone := make(chan result, 1)
	go func() {
		l, err := svc.ListCoupons(context.Background(), domain.ListCouponsRequest{})
		secondDone <- result{l, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(store.release)

	for name, ch := range map[string]chan result{"first": firstDone, "second": secondDone} {
		r := <-ch
		if r.err != nil {
			t.Fatalf("%s caller: expected no error, got %v", name, r.err)
		}
		if len(r.listings) != 1 {
			t.Fatalf("%s caller: expected 1 listing, got %d", name, len(r.listings))
		}
	}
}
