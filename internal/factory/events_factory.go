package factory

import (
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/events"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
)

// EventsFactory creates the ledger event publisher
type EventsFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewEventsFactory creates a new events factory
func NewEventsFactory(cfg *config.Config, logger *zap.Logger) *EventsFactory {
	return &EventsFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePublisher connects to the broker, or returns a no-op publisher when events are disabled
func (f *EventsFactory) CreatePublisher() (core.EventPublisher, func(), error) {
	eventsCfg := f.cfg.GetEvents()
	if !eventsCfg.Enabled {
		return events.NoopPublisher{}, func() {}, nil
	}

	p, err := events.NewAMQPPublisher(eventsCfg.AMQPURL, eventsCfg.Exchange, f.logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
