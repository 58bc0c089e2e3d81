package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
)

type countingCleaner struct {
	mu    sync.Mutex
	days  []int
	err   error
	calls chan struct{}
}

func (c *countingCleaner) Cleanup(ctx context.Context, ageDays int) (*core.CleanupResult, error) {
	c.mu.Lock()
	c.days = append(c.days, ageDays)
	c.mu.Unlock()
	select {
	case c.calls <- struct{}{}:
	default:
	}
	if c.err != nil {
		return nil, c.err
	}
	return &core.CleanupResult{AgeDays: ageDays}, nil
}

func TestSweeperRunsImmediatelyAndOnTicks(t *testing.T) {
	cleaner := &countingCleaner{calls: make(chan struct{}, 10)}
	s := NewSweeper(cleaner, 30, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-cleaner.calls:
		case <-time.After(time.Second):
			t.Fatal("sweep did not run")
		}
	}
	cancel()
	<-done

	cleaner.mu.Lock()
	defer cleaner.mu.Unlock()
	require.GreaterOrEqual(t, len(cleaner.days), 2)
	assert.Equal(t, 30, cleaner.days[0])
}

func TestSweeperWithoutIntervalRunsOnce(t *testing.T) {
	cleaner := &countingCleaner{calls: make(chan struct{}, 1), err: errors.New("boom")}
	NewSweeper(cleaner, 7, 0, zap.NewNop()).Run(context.Background())
	assert.Equal(t, []int{7}, cleaner.days)
}
