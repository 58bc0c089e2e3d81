package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/cache"
	"github.com/mikey/phish-ledger/internal/core"
)

// interleavedStore replays what a transaction observes when another one
// commits while it waits: reads issued before a row lock return the old row,
// and a hook can commit a write between report queries.
type interleavedStore struct {
	*SQLStore
	staleFinding *core.Finding
	afterSummary func()
}

func (s *interleavedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	return s.SQLStore.RunInTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return fn(ctx, &interleavedTx{Tx: tx, store: s})
	})
}

func (s *interleavedStore) Reader() core.Tx {
	return &interleavedTx{Tx: s.SQLStore.Reader(), store: s}
}

type interleavedTx struct {
	core.Tx
	store *interleavedStore
}

func (t *interleavedTx) Findings() core.FindingStore {
	return &staleFindings{FindingStore: t.Tx.Findings(), stale: t.store.staleFinding}
}

func (t *interleavedTx) Emails() core.EmailStore {
	return &hookedEmails{EmailStore: t.Tx.Emails(), store: t.store}
}

type staleFindings struct {
	core.FindingStore
	stale *core.Finding
}

func (f *staleFindings) Get(ctx context.Context, id int64) (*core.Finding, error) {
	if f.stale != nil && f.stale.ID == id {
		old := *f.stale
		return &old, nil
	}
	return f.FindingStore.Get(ctx, id)
}

type hookedEmails struct {
	core.EmailStore
	store *interleavedStore
}

func (e *hookedEmails) Summary(ctx context.Context) (*core.ReportSummary, error) {
	summary, err := e.EmailStore.Summary(ctx)
	if hook := e.store.afterSummary; hook != nil {
		e.store.afterSummary = nil
		hook()
	}
	return summary, err
}

func TestDeleteFindingAfterConcurrentPhraseMove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newTestService(t, s)

	id, err := svc.Store(ctx, emailWith("moved then deleted"), findingsOf("alpha", 1, "gamma", 1))
	require.NoError(t, err)
	findings, err := svc.GetFindings(ctx, id)
	require.NoError(t, err)

	var before core.Finding
	for _, f := range findings {
		if f.Phrase == "alpha" {
			before = f
		}
	}
	require.NotZero(t, before.ID)

	// the move commits while the delete is still waiting on the email lock
	updated, err := svc.UpdateFinding(ctx, before.ID, map[string]any{"phrase": "beta"})
	require.NoError(t, err)
	require.True(t, updated)

	deleting := core.NewLedgerService(&interleavedStore{SQLStore: s, staleFinding: &before}, nil, nil, zap.NewNop())
	deleted, err := deleting.DeleteFinding(ctx, before.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	requireNoStat(t, svc, "alpha")
	requireNoStat(t, svc, "beta")
	requireStat(t, svc, "gamma", 1, 1)
	requireLedgerConsistent(t, s)
}

func TestReportBuiltAcrossCommitIsNotCached(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	store := &interleavedStore{SQLStore: s}
	svc := core.NewLedgerService(store, cache.NewMemoryCache(zap.NewNop(), time.Hour, 0), nil, zap.NewNop())

	_, err := svc.Store(ctx, emailWith("first"), findingsOf("click here", 1))
	require.NoError(t, err)

	store.afterSummary = func() {
		_, err := svc.Store(ctx, emailWith("second"), findingsOf("click here", 1))
		require.NoError(t, err)
	}
	report, err := svc.GetOccurrenceReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.TotalFlaggedEmails)

	report, err = svc.GetOccurrenceReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.TotalFlaggedEmails)
}

func TestPhraseCaseVariantsAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := newTestService(t, s)

	id, err := svc.Store(ctx, emailWith("mixed case"), findingsOf("Urgent action", 1, "urgent action", 2))
	require.NoError(t, err)
	requireStat(t, svc, "Urgent action", 1, 1)
	requireStat(t, svc, "urgent action", 2, 1)

	_, err = svc.Store(ctx, emailWith("mixed case"), findingsOf("urgent action", 1))
	require.NoError(t, err)
	requireNoStat(t, svc, "Urgent action")
	requireStat(t, svc, "urgent action", 1, 1)
	requireLedgerConsistent(t, s)

	_, err = svc.DeleteEmail(ctx, id)
	require.NoError(t, err)
	requireLedgerConsistent(t, s)
}

func TestMySQLTablesUseBinaryCollation(t *testing.T) {
	for _, stmt := range dialectMySQL.schema() {
		if strings.HasPrefix(strings.TrimSpace(stmt), "CREATE TABLE") {
			assert.Contains(t, stmt, "COLLATE=utf8mb4_bin")
		}
	}
}
