package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
)

// reportKey is the key under which the occurrence report is cached
const reportKey = "occurrence_report"

type memoryEntry struct {
	report    *core.OccurrenceReport
	expiresAt time.Time
}

// MemoryCache is an in-process implementation of core.ReportCache
type MemoryCache struct {
	entries     map[string]memoryEntry
	mu          sync.RWMutex
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMemoryCache creates a new in-memory cache and starts its cleanup loop
func NewMemoryCache(logger *zap.Logger, ttl, cleanupFreq time.Duration) *MemoryCache {
	cache := &MemoryCache{
		entries:     make(map[string]memoryEntry),
		logger:      logger,
		ttl:         ttl,
		cleanupFreq: cleanupFreq,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go cache.startCleanupTask()
	}
	return cache
}

// Get returns the cached report or core.ErrNotFound
func (c *MemoryCache) Get(ctx context.Context) (*core.OccurrenceReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[reportKey]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, core.ErrNotFound
	}
	return entry.report, nil
}

// Set stores the report for the configured TTL
func (c *MemoryCache) Set(ctx context.Context, report *core.OccurrenceReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[reportKey] = memoryEntry{
		report:    report,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Invalidate drops the cached report
func (c *MemoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, reportKey)
	return nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			expired++
		}
	}

	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expired))
	return nil
}

func (c *MemoryCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

var _ core.ReportCache = (*MemoryCache)(nil)
