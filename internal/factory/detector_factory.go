package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/bedrock"
	"github.com/mikey/phish-ledger/internal/adapters/gemini"
	"github.com/mikey/phish-ledger/internal/adapters/openai"
	"github.com/mikey/phish-ledger/internal/adapters/rules"
	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

// DetectorFactory creates phrase detectors
type DetectorFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewDetectorFactory creates a new detector factory
func NewDetectorFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *DetectorFactory {
	return &DetectorFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateDetector creates a detector based on detector.type and llm.provider
func (f *DetectorFactory) CreateDetector(ctx context.Context) (core.Detector, error) {
	detectorCfg, err := f.cfg.GetDetector()
	if err != nil {
		return nil, err
	}

	switch detectorCfg.Type {
	case "rules":
		if len(detectorCfg.Rules) == 0 {
			f.logger.Warn("Rules detector has no rules configured, nothing will be flagged")
		}
		return rules.NewDetector(detectorCfg.Rules, f.logger)
	case "llm":
		return f.createLLMDetector(ctx)
	default:
		return nil, fmt.Errorf("unsupported detector type: %s", detectorCfg.Type)
	}
}

func (f *DetectorFactory) createLLMDetector(ctx context.Context) (core.Detector, error) {
	provider := f.cfg.GetLLM().Provider

	switch provider {
	case "bedrock":
		return bedrock.NewFactory(f.cfg.GetBedrock(), f.logger, f.textProcessor).CreateDetector(ctx)
	case "gemini":
		return gemini.NewFactory(f.cfg.GetGemini(), f.logger, f.textProcessor).CreateDetector(ctx)
	case "openai":
		return openai.NewFactory(f.cfg.GetOpenAI(), f.logger, f.textProcessor).CreateDetector()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
