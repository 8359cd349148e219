package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "shipping:processed:"

// Redis stores one key per processed order, expiring after the TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func (r *Redis) HasProcessed(ctx context.Context, orderID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, redisKeyPrefix+orderID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed order %s: %w", orderID, err)
	}
	return n > 0, nil
}

func (r *Redis) MarkProcessed(ctx context.Context, orderID string) error {
	err := r.rdb.Set(ctx, redisKeyPrefix+orderID, time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to mark order %s processed: %w", orderID, err)
	}
	return nil
}
