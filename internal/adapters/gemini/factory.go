package gemini

import (
	"context"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/utils"
)

// Factory creates Gemini detectors
type Factory struct {
	cfg           config.GeminiConfig
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new factory for Gemini detectors
func NewFactory(cfg config.GeminiConfig, logger *zap.Logger, textProcessor *utils.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateDetector creates a new Gemini detector
func (f *Factory) CreateDetector(ctx context.Context) (*Detector, error) {
	return NewDetector(
		ctx,
		f.cfg.APIKey,
		f.cfg.ModelName,
		f.cfg.MaxTokens,
		f.cfg.Temperature,
		f.cfg.TopP,
		f.cfg.MaxBodySize,
		f.logger,
		f.textProcessor,
	)
}
