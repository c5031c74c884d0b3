package engram

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const recencyKey = "mimo:recency"

// RedisRecency keeps a sorted set of engram ids scored by last-access time.
// The hybrid retriever reads it for the recency leg of a query; the access
// tracker writes it on flush.
type RedisRecency struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisRecency connects to Redis and returns the recency index.
func NewRedisRecency(redisURL string, logger *zap.Logger) (*RedisRecency, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRecency{rdb: rdb, logger: logger}, nil
}

// Touch records that the engram was accessed at the given time.
func (r *RedisRecency) Touch(ctx context.Context, id string, at time.Time) error {
	return r.rdb.ZAdd(ctx, recencyKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: id,
	}).Err()
}

// Recent returns up to limit engram ids, most recently accessed first.
func (r *RedisRecency) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := r.rdb.ZRevRange(ctx, recencyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recency range: %w", err)
	}
	return ids, nil
}

// Remove drops forgotten engrams from the index.
func (r *RedisRecency) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return r.rdb.ZRem(ctx, recencyKey, members...).Err()
}

// Close tears down the Redis connection.
func (r *RedisRecency) Close() error {
	return r.rdb.Close()
}
