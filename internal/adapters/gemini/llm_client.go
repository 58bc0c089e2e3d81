package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikey/phish-ledger/internal/adapters/llm"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

// ContentGenerator is the part of genai.GenerativeModel the detector uses
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Detector finds phishing phrases using Google Gemini
type Detector struct {
	client        *genai.Client
	model         ContentGenerator
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewDetector creates a Gemini client configured for JSON output
func NewDetector(
	ctx context.Context,
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*Detector, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(llm.SystemPrompt)}}

	d := newDetector(model, modelName, maxBodySize, logger, textProcessor)
	d.client = client
	return d, nil
}

func newDetector(model ContentGenerator, modelName string, maxBodySize int, logger *zap.Logger, textProcessor *utils.TextProcessor) *Detector {
	return &Detector{
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Name returns the detector name
func (d *Detector) Name() string {
	return "gemini:" + d.modelName
}

// Close closes the Gemini client
func (d *Detector) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Detect asks the model for the suspicious phrases in email
func (d *Detector) Detect(ctx context.Context, email *core.Email) ([]core.FindingInput, error) {
	body := d.textProcessor.ProcessText(email.Body, d.maxBodySize)
	prompt := llm.BuildPrompt(email, body)

	resp, err := d.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	findings, err := llm.ParseFindings(text.String())
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Gemini detection complete",
		zap.String("model", d.modelName),
		zap.Int("findings", len(findings)))
	return findings, nil
}

var _ core.Detector = (*Detector)(nil)
