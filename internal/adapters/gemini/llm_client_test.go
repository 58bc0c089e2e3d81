package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

type fakeModel struct {
	prompt string
	resp   *genai.GenerateContentResponse
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.prompt = string(parts[0].(genai.Text))
	return f.resp, nil
}

func textResponse(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestDetectJoinsTextParts(t *testing.T) {
	model := &fakeModel{resp: textResponse(
		genai.Text(`{"findings":[{"phrase":"gift card",`),
		genai.Text(`"segment":"body","line_number":3}]}`),
	)}
	logger := zap.NewNop()
	d := newDetector(model, "gemini-1.5-flash", 100, logger, utils.NewTextProcessor(logger))

	findings, err := d.Detect(context.Background(), &core.Email{Subject: "Reward", Body: "buy a gift card"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "gift card", findings[0].Phrase)
	assert.Contains(t, model.prompt, "Subject: Reward")
	assert.Equal(t, "gemini:gemini-1.5-flash", d.Name())
}

func TestDetectEmptyCandidates(t *testing.T) {
	model := &fakeModel{resp: &genai.GenerateContentResponse{}}
	logger := zap.NewNop()
	d := newDetector(model, "gemini-1.5-flash", 100, logger, utils.NewTextProcessor(logger))

	_, err := d.Detect(context.Background(), &core.Email{})
	assert.Error(t, err)
	assert.NoError(t, d.Close())
}
