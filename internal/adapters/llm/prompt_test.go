package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/phish-ledger/internal/core"
)

func TestParseFindingsPlainJSON(t *testing.T) {
	findings, err := ParseFindings(`{"findings":[{"phrase":"verify your account","segment":"subject","line_number":1,"context":"Please verify your account"}]}`)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "verify your account", findings[0].Phrase)
	assert.Equal(t, "subject", findings[0].Segment)
	assert.Equal(t, 1, *findings[0].LineNumber)
}

func TestParseFindingsWrappedInProse(t *testing.T) {
	text := "Sure, here is the result:\n```json\n{\"findings\":[{\"phrase\":\" Click Here \",\"line_number\":0}]}\n```"
	findings, err := ParseFindings(text)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Click Here", findings[0].Phrase)
	assert.Equal(t, "body", findings[0].Segment)
	assert.Nil(t, findings[0].LineNumber)
}

func TestParseFindingsDropsBlankPhrases(t *testing.T) {
	findings, err := ParseFindings(`{"findings":[{"phrase":""},{"phrase":"wire"}]}`)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "wire", findings[0].Phrase)
}

func TestParseFindingsWithoutJSON(t *testing.T) {
	_, err := ParseFindings("I cannot help with that")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestBuildPromptSummarisesRecipients(t *testing.T) {
	prompt := BuildPrompt(&core.Email{
		From:    "a@example.com",
		To:      []string{"b@example.com", "c@example.com", "d@example.com"},
		Subject: "Invoice",
	}, "pay now")
	assert.Contains(t, prompt, "To: b@example.com and 2 others")
	assert.Contains(t, prompt, "Subject: Invoice")
	assert.Contains(t, prompt, "pay now")
}
