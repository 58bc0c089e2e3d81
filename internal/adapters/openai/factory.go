package openai

import (
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/utils"
)

// Factory creates OpenAI detectors
type Factory struct {
	cfg           config.OpenAIConfig
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new factory for OpenAI detectors
func NewFactory(cfg config.OpenAIConfig, logger *zap.Logger, textProcessor *utils.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateDetector creates a new OpenAI detector
func (f *Factory) CreateDetector() (*Detector, error) {
	if f.cfg.APIKey == "" {
		return nil, fmt.Errorf("openai.api_key is required")
	}
	return NewDetector(
		openai.NewClient(f.cfg.APIKey),
		f.cfg.ModelName,
		f.cfg.MaxTokens,
		f.cfg.Temperature,
		f.cfg.TopP,
		f.cfg.MaxBodySize,
		f.logger,
		f.textProcessor,
	), nil
}
