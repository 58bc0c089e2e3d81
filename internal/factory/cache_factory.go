package factory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/cache"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
)

// CacheFactory creates report caches based on configuration
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateReportCache creates the configured report cache. It returns a nil
// cache when caching is disabled; the returned stop func is always safe to call.
func (f *CacheFactory) CreateReportCache(ctx context.Context) (core.ReportCache, func(), error) {
	cacheCfg, err := f.cfg.GetCache()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cache configuration: %w", err)
	}
	if !cacheCfg.Enabled {
		return nil, func() {}, nil
	}

	switch cacheCfg.Type {
	case "memory":
		c := cache.NewMemoryCache(f.logger, cacheCfg.TTL, cacheCfg.CleanupFrequency)
		return c, c.Stop, nil
	case "redis":
		c, err := cache.NewRedisCache(ctx, &redis.Options{
			Addr:     cacheCfg.RedisAddr,
			Password: cacheCfg.RedisPassword,
			DB:       cacheCfg.RedisDB,
		}, cacheCfg.KeyPrefix, cacheCfg.TTL, f.logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Stop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache type: %s", cacheCfg.Type)
	}
}
