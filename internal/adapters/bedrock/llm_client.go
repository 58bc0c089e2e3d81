package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/llm"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

// InvokeModelAPI is the part of the Bedrock runtime client the detector uses
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Detector finds phishing phrases using a model hosted on Amazon Bedrock
type Detector struct {
	client        InvokeModelAPI
	modelID       string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewDetector creates a new Bedrock detector
func NewDetector(
	client InvokeModelAPI,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Detector {
	return &Detector{
		client:        client,
		modelID:       modelID,
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
	return "bedrock:" + d.modelID
}

// Detect asks the model for the suspicious phrases in email
func (d *Detector) Detect(ctx context.Context, email *core.Email) ([]core.FindingInput, error) {
	body := d.textProcessor.ProcessText(email.Body, d.maxBodySize)
	prompt := llm.BuildPrompt(email, body)

	payload, err := d.requestPayload(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := d.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(d.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	text, err := d.responseText(resp.Body)
	if err != nil {
		return nil, err
	}

	findings, err := llm.ParseFindings(text)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Bedrock detection complete",
		zap.String("model", d.modelID),
		zap.Int("findings", len(findings)))
	return findings, nil
}

func (d *Detector) requestPayload(prompt string) ([]byte, error) {
	switch {
	case d.isAnthropicModel():
		return json.Marshal(map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"system":            llm.SystemPrompt,
			"max_tokens":        d.maxTokens,
			"temperature":       d.temperature,
			"top_p":             d.topP,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		})
	case d.isAmazonTitanModel():
		return json.Marshal(map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": d.maxTokens,
				"temperature":   d.temperature,
				"topP":          d.topP,
			},
		})
	default:
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_tokens":  d.maxTokens,
			"temperature": d.temperature,
			"top_p":       d.topP,
		})
	}
}

func (d *Detector) responseText(body []byte) (string, error) {
	switch {
	case d.isAnthropicModel():
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var b strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				b.WriteString(c.Text)
			}
		}
		if b.Len() == 0 {
			return "", fmt.Errorf("empty response from Claude model")
		}
		return b.String(), nil
	case d.isAmazonTitanModel():
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		switch {
		case resp.Output != "":
			return resp.Output, nil
		case resp.Text != "":
			return resp.Text, nil
		case resp.Response != "":
			return resp.Response, nil
		}
		return string(body), nil
	}
}

func (d *Detector) isAnthropicModel() bool {
	return strings.Contains(d.modelID, "anthropic.claude")
}

func (d *Detector) isAmazonTitanModel() bool {
	return strings.HasPrefix(d.modelID, "amazon.titan")
}

var _ core.Detector = (*Detector)(nil)
