package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/utils"
)

type fakeRuntime struct {
	input *bedrockruntime.InvokeModelInput
	body  []byte
	err   error
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func newTestDetector(rt *fakeRuntime, model string) *Detector {
	logger := zap.NewNop()
	return NewDetector(rt, model, 512, 0, 1, 1024, logger, utils.NewTextProcessor(logger))
}

func TestDetectClaudeMessages(t *testing.T) {
	rt := &fakeRuntime{body: []byte(`{"content":[{"type":"text","text":"{\"findings\":[{\"phrase\":\"reset your password\",\"segment\":\"body\",\"line_number\":2}]}"}]}`)}
	d := newTestDetector(rt, "anthropic.claude-3-haiku-20240307-v1:0")

	findings, err := d.Detect(context.Background(), &core.Email{Subject: "Notice", Body: "Hi\nreset your password"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "reset your password", findings[0].Phrase)

	var req map[string]any
	require.NoError(t, json.Unmarshal(rt.input.Body, &req))
	assert.Equal(t, "bedrock-2023-05-31", req["anthropic_version"])
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", *rt.input.ModelId)
}

func TestDetectTitan(t *testing.T) {
	rt := &fakeRuntime{body: []byte(`{"results":[{"outputText":"{\"findings\":[]}"}]}`)}
	d := newTestDetector(rt, "amazon.titan-text-express-v1")

	findings, err := d.Detect(context.Background(), &core.Email{Body: "hello"})
	require.NoError(t, err)
	assert.Empty(t, findings)

	var req map[string]any
	require.NoError(t, json.Unmarshal(rt.input.Body, &req))
	assert.Contains(t, req, "textGenerationConfig")
}

func TestDetectInvokeFailure(t *testing.T) {
	rt := &fakeRuntime{err: errors.New("throttled")}
	d := newTestDetector(rt, "meta.llama3")

	_, err := d.Detect(context.Background(), &core.Email{})
	assert.ErrorContains(t, err, "throttled")
}
