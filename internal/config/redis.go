package config

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

// NewRedisClient connects to the listing cache. It returns nil when Redis is
// unreachable; callers then run without a cache.
func NewRedisClient(ctx context.Context, cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDatabase(),
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		zlog.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, listing cache disabled")
		client.Close()
		return nil
	}
	return client
}
