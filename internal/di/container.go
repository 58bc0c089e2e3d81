package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/store"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/factory"
	"github.com/mikey/phish-ledger/internal/logging"
	"github.com/mikey/phish-ledger/internal/ports"
	"github.com/mikey/phish-ledger/internal/utils"
)

// CacheHandle holds the report cache, which is nil when caching is disabled
type CacheHandle struct {
	Cache core.ReportCache
	Stop  func()
}

// EventsHandle holds the ledger event publisher
type EventsHandle struct {
	Publisher core.EventPublisher
	Close     func()
}

// BuildContainer creates and configures a dependency injection container for the daemon
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideLedger(container); err != nil {
		return nil, err
	}

	// Register email filter
	if err := container.Provide(func(f *factory.FilterFactory) (ports.EmailFilter, error) {
		return f.CreateEmailFilter()
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideLedger registers everything from the store up to the ledger service and detector.
// Callers must already have provided *config.Config and *zap.Logger.
func provideLedger(container *dig.Container) error {
	providers := []any{
		context.Background,
		utils.NewTextProcessor,
		factory.NewStoreFactory,
		factory.NewCacheFactory,
		factory.NewEventsFactory,
		factory.NewDetectorFactory,
		factory.NewFilterFactory,
		func(ctx context.Context, f *factory.StoreFactory) (*store.SQLStore, error) {
			return f.CreateStore(ctx)
		},
		func(ctx context.Context, f *factory.CacheFactory) (*CacheHandle, error) {
			c, stop, err := f.CreateReportCache(ctx)
			if err != nil {
				return nil, err
			}
			return &CacheHandle{Cache: c, Stop: stop}, nil
		},
		func(f *factory.EventsFactory) (*EventsHandle, error) {
			p, closeFn, err := f.CreatePublisher()
			if err != nil {
				return nil, err
			}
			return &EventsHandle{Publisher: p, Close: closeFn}, nil
		},
		func(ctx context.Context, f *factory.DetectorFactory) (core.Detector, error) {
			return f.CreateDetector(ctx)
		},
		func(s *store.SQLStore, c *CacheHandle, e *EventsHandle, logger *zap.Logger) *core.LedgerService {
			return core.NewLedgerService(s, c.Cache, e.Publisher, logger)
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}
