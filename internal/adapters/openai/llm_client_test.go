package openai

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, nil
}

func TestDetectRequestsJSONObject(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		ID: "cmpl-1",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: `{"findings":[{"phrase":"account suspended","segment":"subject","line_number":1}]}`},
		}},
	}}
	logger := zap.NewNop()
	d := NewDetector(chat, "gpt-4o-mini", 256, 0, 1, 4096, logger, utils.NewTextProcessor(logger))

	findings, err := d.Detect(context.Background(), &core.Email{Subject: "Account suspended"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "account suspended", findings[0].Phrase)

	assert.Equal(t, "gpt-4o-mini", chat.req.Model)
	require.NotNil(t, chat.req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.req.ResponseFormat.Type)
	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.req.Messages[0].Role)
}

func TestDetectNoChoices(t *testing.T) {
	logger := zap.NewNop()
	d := NewDetector(&fakeChat{}, "gpt-4o-mini", 256, 0, 1, 4096, logger, utils.NewTextProcessor(logger))

	_, err := d.Detect(context.Background(), &core.Email{})
	assert.Error(t, err)
}

func TestFactoryRequiresAPIKey(t *testing.T) {
	_, err := NewFactory(config.OpenAIConfig{ModelName: "gpt-4o-mini"}, zap.NewNop(), nil).CreateDetector()
	assert.Error(t, err)
}
