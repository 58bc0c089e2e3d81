package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/events"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

func TestSqlitePath(t *testing.T) {
	assert.Equal(t, "/var/lib/ledger.db", sqlitePath("/var/lib/ledger.db"))
	assert.Equal(t, "data/ledger.db", sqlitePath("file:data/ledger.db?_pragma=foreign_keys(1)"))
	assert.Equal(t, "", sqlitePath(":memory:"))
	assert.Equal(t, "", sqlitePath("file::memory:?cache=shared"))
}

func TestDisabledCacheAndEvents(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("cache.enabled", false)
	v.Set("events.enabled", false)
	cfg := config.NewFromViper(v)

	c, stop, err := NewCacheFactory(cfg, zap.NewNop()).CreateReportCache(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c)
	stop()

	p, closePublisher, err := NewEventsFactory(cfg, zap.NewNop()).CreatePublisher()
	require.NoError(t, err)
	assert.IsType(t, events.NoopPublisher{}, p)
	closePublisher()
}

func TestUnsupportedAdapters(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("cache.enabled", true)
	v.Set("cache.type", "memcached")
	v.Set("detector.type", "oracle")
	cfg := config.NewFromViper(v)

	_, _, err := NewCacheFactory(cfg, zap.NewNop()).CreateReportCache(context.Background())
	assert.ErrorContains(t, err, "unsupported cache type")

	_, err = NewDetectorFactory(cfg, zap.NewNop(), utils.NewTextProcessor(zap.NewNop())).CreateDetector(context.Background())
	assert.ErrorContains(t, err, "unsupported detector type")
}

func TestRulesPipelineRecordsIntoSQLite(t *testing.T) {
	ctx := context.Background()
	v := config.NewEmptyViper()
	v.Set("database.driver", "sqlite")
	v.Set("database.dsn", filepath.Join(t.TempDir(), "nested", "ledger.db"))
	v.Set("detector.type", "rules")
	v.Set("detector.rules", []map[string]any{
		{"segment": "subject", "phrase": "urgent action"},
		{"segment": "body", "phrase": "verify your account"},
	})
	cfg := config.NewFromViper(v)
	logger := zap.NewNop()

	s, err := NewStoreFactory(cfg, logger).CreateStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	detector, err := NewDetectorFactory(cfg, logger, utils.NewTextProcessor(logger)).CreateDetector(ctx)
	require.NoError(t, err)

	service := core.NewLedgerService(s, nil, nil, logger)
	pipeline, err := NewFilterFactory(cfg, logger, service, detector).CreatePipeline()
	require.NoError(t, err)

	raw := []byte("From: Bank <alerts@bank.example>\r\n" +
		"To: victim@example.org\r\n" +
		"Subject: Urgent action required\r\n" +
		"\r\n" +
		"Please verify your account.\r\n" +
		"Then verify your account again.\r\n")

	result, err := pipeline.Process(ctx, raw, "", nil)
	require.NoError(t, err)
	require.True(t, result.Flagged())
	assert.Len(t, result.Findings, 3)

	stat, err := service.GetPhraseStatistic(ctx, "verify your account")
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 2, stat.TotalOccurrences)
	assert.Equal(t, 1, stat.EmailsAffected)

	// the same message again is a re-analysis, not a new email
	_, err = pipeline.Process(ctx, raw, "", nil)
	require.NoError(t, err)
	count, err := service.GetEmailCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
