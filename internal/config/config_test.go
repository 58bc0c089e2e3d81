package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	db, err := cfg.GetDatabase()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, 30*time.Minute, db.ConnMaxLifetime)

	retention, err := cfg.GetRetention()
	require.NoError(t, err)
	assert.True(t, retention.Enabled)
	assert.Equal(t, 30, retention.MaxAgeDays)
	assert.Equal(t, 24*time.Hour, retention.Interval)

	server := cfg.GetServer()
	assert.Equal(t, "X-Phish-Findings", server.FindingsHeader)
	assert.Equal(t, 10026, server.PostfixPort)

	cache, err := cfg.GetCache()
	require.NoError(t, err)
	assert.Equal(t, "memory", cache.Type)
	assert.Equal(t, 5*time.Minute, cache.TTL)
}

func TestLoadFileWithRulesAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://ledger@localhost/ledger
retention:
  max_age_days: 7
detector:
  type: rules
  rules:
    - segment: subject
      phrase: urgent action
    - segment: body
      phrase: click here
`), 0o600))
	t.Setenv("PHISH_LEDGER_RETENTION_INTERVAL", "6h")

	cfg, err := Load(path)
	require.NoError(t, err)

	db, err := cfg.GetDatabase()
	require.NoError(t, err)
	assert.Equal(t, "postgres", db.Driver)

	retention, err := cfg.GetRetention()
	require.NoError(t, err)
	assert.Equal(t, 7, retention.MaxAgeDays)
	assert.Equal(t, 6*time.Hour, retention.Interval)

	detector, err := cfg.GetDetector()
	require.NoError(t, err)
	assert.Equal(t, []Rule{
		{Segment: "subject", Phrase: "urgent action"},
		{Segment: "body", Phrase: "click here"},
	}, detector.Rules)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestInvalidDuration(t *testing.T) {
	v := NewEmptyViper()
	v.Set("retention.interval", "daily")
	_, err := NewFromViper(v).GetRetention()
	assert.Error(t, err)
}
