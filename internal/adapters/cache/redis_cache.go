package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
)

// RedisCache shares the occurrence report between ledger processes
type RedisCache struct {
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to redis and verifies the connection
func NewRedisCache(ctx context.Context, opts *redis.Options, keyPrefix string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisCacheFromClient(rdb, keyPrefix, ttl, logger), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(rdb *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		rdb:    rdb,
		key:    keyPrefix + reportKey,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the cached report or core.ErrNotFound
func (c *RedisCache) Get(ctx context.Context) (*core.OccurrenceReport, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report from redis: %w", err)
	}

	var report core.OccurrenceReport
	if err := json.Unmarshal(data, &report); err != nil {
		// A corrupt entry behaves like a miss and is replaced on the next Set
		c.logger.Warn("Discarding unreadable cached report", zap.Error(err))
		return nil, core.ErrNotFound
	}
	return &report, nil
}

// Set stores the report with the configured TTL
func (c *RedisCache) Set(ctx context.Context, report *core.OccurrenceReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write report to redis: %w", err)
	}
	return nil
}

// Invalidate deletes the cached report
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate report in redis: %w", err)
	}
	return nil
}

// Stop closes the redis client
func (c *RedisCache) Stop() {
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close redis client", zap.Error(err))
	}
}

var _ core.ReportCache = (*RedisCache)(nil)
