package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingStore rejects every transaction and has no reader
type failingStore struct {
	err   error
	calls int
}

func (s *failingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.calls++
	return s.err
}

func (s *failingStore) Reader() Tx   { panic("reader must not be used") }
func (s *failingStore) Close() error { return nil }

type recordingCache struct {
	report      *OccurrenceReport
	invalidated int
}

func (c *recordingCache) Get(ctx context.Context) (*OccurrenceReport, error) {
	if c.report == nil {
		return nil, ErrNotFound
	}
	return c.report, nil
}

func (c *recordingCache) Set(ctx context.Context, report *OccurrenceReport) error {
	c.report = report
	return nil
}

func (c *recordingCache) Invalidate(ctx context.Context) error {
	c.invalidated++
	c.report = nil
	return nil
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func TestFailedTransactionSkipsSideEffects(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{err: errors.New("rolled back: " + ErrTransaction.Error())}
	cache := &recordingCache{}
	events := &recordingPublisher{}
	svc := NewLedgerService(store, cache, events, zap.NewNop())

	_, err := svc.Store(ctx, &EmailDescriptor{RawContent: []byte("body")}, []FindingInput{{Phrase: "p"}})
	require.Error(t, err)
	_, err = svc.DeleteEmail(ctx, 1)
	require.Error(t, err)
	_, err = svc.DeleteFinding(ctx, 1)
	require.Error(t, err)
	_, err = svc.Cleanup(ctx, 30)
	require.Error(t, err)

	assert.Equal(t, 4, store.calls)
	assert.Zero(t, cache.invalidated)
	assert.Empty(t, events.keys)
}

func TestValidationHappensBeforeTransaction(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	svc := NewLedgerService(store, nil, nil, zap.NewNop())

	_, err := svc.Store(ctx, &EmailDescriptor{RiskLevel: "unknown"}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Store(ctx, &EmailDescriptor{}, []FindingInput{{Segment: "body"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateFinding(ctx, 1, map[string]any{"phrase": ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateEmailFields(ctx, 1, map[string]any{"risk_level": 3})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Cleanup(ctx, -5)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, store.calls)
}

func TestOccurrenceReportServedFromCache(t *testing.T) {
	cached := &OccurrenceReport{
		Summary:     ReportSummary{TotalFlaggedEmails: 7},
		GeneratedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	svc := NewLedgerService(&failingStore{}, &recordingCache{report: cached}, nil, zap.NewNop())

	report, err := svc.GetOccurrenceReport(context.Background())
	require.NoError(t, err)
	assert.Same(t, cached, report)
}

func TestNormalizeDescriptorDefaults(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	desc, err := normalizeDescriptor(&EmailDescriptor{MessageDate: &when})
	require.NoError(t, err)
	assert.Equal(t, DefaultRiskLevel, desc.RiskLevel)
	assert.Equal(t, time.UTC, desc.MessageDate.Location())
	assert.True(t, desc.MessageDate.Equal(when))
}
