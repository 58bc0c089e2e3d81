package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/llm"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

// ChatCompletionAPI is the part of the OpenAI client the detector uses
type ChatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Detector finds phishing phrases using the OpenAI chat API
type Detector struct {
	client        ChatCompletionAPI
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewDetector creates a new OpenAI detector
func NewDetector(
	client ChatCompletionAPI,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Detector {
	return &Detector{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Name returns the detector name
func (d *Detector) Name() string {
	return "openai:" + d.modelName
}

// Detect asks the model for the suspicious phrases in email
func (d *Detector) Detect(ctx context.Context, email *core.Email) ([]core.FindingInput, error) {
	body := d.textProcessor.ProcessText(email.Body, d.maxBodySize)

	req := openai.ChatCompletionRequest{
		Model: d.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llm.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: llm.BuildPrompt(email, body)},
		},
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
		TopP:        d.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	findings, err := llm.ParseFindings(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("OpenAI detection complete",
		zap.String("model", d.modelName),
		zap.String("completion_id", resp.ID),
		zap.Int("findings", len(findings)))
	return findings, nil
}

var _ core.Detector = (*Detector)(nil)
