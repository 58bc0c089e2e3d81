package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
)

// Cleaner deletes emails older than a number of days
type Cleaner interface {
	Cleanup(ctx context.Context, ageDays int) (*core.CleanupResult, error)
}

// Sweeper periodically removes flagged emails past their retention age
type Sweeper struct {
	cleaner    Cleaner
	maxAgeDays int
	interval   time.Duration
	logger     *zap.Logger
}

// NewSweeper creates a new retention sweeper
func NewSweeper(cleaner Cleaner, maxAgeDays int, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cleaner:    cleaner,
		maxAgeDays: maxAgeDays,
		interval:   interval,
		logger:     logger,
	}
}

// Run sweeps once immediately and then every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.cleaner.Cleanup(ctx, s.maxAgeDays)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Retention sweep failed", zap.Int("max_age_days", s.maxAgeDays), zap.Error(err))
		}
		return
	}
	if result.EmailsDeleted > 0 {
		s.logger.Info("Retention sweep removed emails",
			zap.Int64("emails_deleted", result.EmailsDeleted),
			zap.Int64("findings_deleted", result.FindingsDeleted),
			zap.Time("cutoff", result.Cutoff))
	}
}
