package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
)

func TestMemoryCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(zap.NewNop(), time.Minute, 0)
	defer c.Stop()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Get(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	report := &core.OccurrenceReport{Summary: core.ReportSummary{TotalFlaggedEmails: 3}}
	require.NoError(t, c.Set(ctx, report))

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, report, got)

	require.NoError(t, c.Invalidate(ctx))
	_, err = c.Get(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(zap.NewNop(), time.Minute, 0)
	defer c.Stop()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, &core.OccurrenceReport{}))

	now = now.Add(2 * time.Minute)
	_, err := c.Get(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, c.Cleanup(ctx))
	assert.Empty(t, c.entries)
}

func TestMemoryCacheStopIsIdempotent(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), time.Minute, time.Hour)
	c.Stop()
	c.Stop()
}
