package factory

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/filter"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/ports"
	"github.com/mikey/phish-ledger/internal/whitelist"
)

// FilterFactory creates the intake pipeline and the email filters built on it
type FilterFactory struct {
	cfg      *config.Config
	logger   *zap.Logger
	service  *core.LedgerService
	detector core.Detector
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger, service *core.LedgerService, detector core.Detector) *FilterFactory {
	return &FilterFactory{
		cfg:      cfg,
		logger:   logger,
		service:  service,
		detector: detector,
	}
}

// CreatePipeline creates the intake pipeline shared by all filters
func (f *FilterFactory) CreatePipeline() (*filter.Pipeline, error) {
	detectorCfg, err := f.cfg.GetDetector()
	if err != nil {
		return nil, err
	}
	checker := whitelist.NewChecker(f.cfg.GetStringSlice("spam.whitelisted_domains"), f.logger)
	return filter.NewPipeline(f.service, f.detector, checker, f.logger, detectorCfg.Timeout), nil
}

// CreateEmailFilter creates an email filter based on server.filter_type
func (f *FilterFactory) CreateEmailFilter() (ports.EmailFilter, error) {
	pipeline, err := f.CreatePipeline()
	if err != nil {
		return nil, err
	}

	server := f.cfg.GetServer()
	switch server.FilterType {
	case "postfix":
		return filter.NewPostfixFilter(
			pipeline,
			f.logger,
			server.ListenAddress,
			filter.HeaderNames{
				Findings:    server.FindingsHeader,
				Fingerprint: server.FingerprintHeader,
				Error:       server.ErrorHeader,
			},
			server.PostfixAddress,
			server.PostfixPort,
			server.PostfixEnabled,
			server.MaxMessageBytes,
			server.RateLimit,
			server.RateBurst,
		), nil
	case "cli":
		return filter.NewCliFilter(pipeline, f.logger, os.Stdout, f.cfg.GetBool("cli.verbose")), nil
	default:
		return nil, fmt.Errorf("unsupported filter type: %s", server.FilterType)
	}
}
