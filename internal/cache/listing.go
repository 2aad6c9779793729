package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "coupon:"

// ListingCache keeps listing pages in Redis. Each page key is also added to
// a tag set per coupon it contains, so a change to one coupon drops exactly
// the pages that show it.
type ListingCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewListingCache(rdb redis.Cmdable, ttl time.Duration) *ListingCache {
	return &ListingCache{rdb: rdb, ttl: ttl, prefix: DefaultPrefix}
}

func (c *ListingCache) pageKey(f domain.ListFilter) string {
	return c.prefix + "listing:" + f.CacheKey()
}

func (c *ListingCache) tagKey(couponID uuid.UUID) string {
	return c.prefix + "listing-tag:" + couponID.String()
}

func (c *ListingCache) allKey() string {
	return c.prefix + "listing-tag:all"
}

func (c *ListingCache) Get(ctx context.Context, f domain.ListFilter) ([]domain.CouponListing, bool, error) {
	val, err := c.rdb.Get(ctx, c.pageKey(f)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get listing page: %w", err)
	}

	var listings []domain.CouponListing
	if err := json.Unmarshal(val, &listings); err != nil {
		return nil, false, fmt.Errorf("decode listing page: %w", err)
	}
	return listings, true, nil
}

func (c *ListingCache) Set(ctx context.Context, f domain.ListFilter, listings []domain.CouponListing) error {
	data, err := json.Marshal(listings)
	if err != nil {
		return fmt.Errorf("encode listing page: %w", err)
	}

	key := c.pageKey(f)
	// tags outlive the pages they point at so an invalidation never misses one
	tagTTL := 2 * c.ttl

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, c.allKey(), key)
		pipe.Expire(ctx, c.allKey(), tagTTL)
		for _, l := range listings {
			tag := c.tagKey(l.ID)
			pipe.SAdd(ctx, tag, key)
			pipe.Expire(ctx, tag, tagTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store listing page: %w", err)
	}
	return nil
}

func (c *ListingCache) InvalidateCoupon(ctx context.Context, couponID uuid.UUID) error {
	return c.dropTag(ctx, c.tagKey(couponID))
}

func (c *ListingCache) InvalidateAll(ctx context.Context) error {
	return c.dropTag(ctx, c.allKey())
}

func (c *ListingCache) dropTag(ctx context.Context, tag string) error {
	keys, err := c.rdb.SMembers(ctx, tag).Result()
	if err != nil {
		return fmt.Errorf("read listing tag %s: %w", tag, err)
	}
	if err := c.rdb.Del(ctx, append(keys, tag)...).Err(); err != nil {
		return fmt.Errorf("drop listing tag %s: %w", tag, err)
	}
	return nil
}
