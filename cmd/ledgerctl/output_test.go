package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/phish-ledger/internal/core"
)

func TestRenderFormats(t *testing.T) {
	stat := core.PhraseStatistic{Phrase: "click here", TotalOccurrences: 3, EmailsAffected: 2}
	text := func(w io.Writer) error { return statsTable(w, []core.PhraseStatistic{stat}) }

	var buf bytes.Buffer
	require.NoError(t, render(&buf, outputJSON, stat, text))
	assert.Contains(t, buf.String(), `"total_occurrences": 3`)

	buf.Reset()
	require.NoError(t, render(&buf, outputYAML, stat, text))
	assert.Contains(t, buf.String(), "emails_affected: 2")

	buf.Reset()
	require.NoError(t, render(&buf, outputText, stat, text))
	assert.Contains(t, buf.String(), "PHRASE")
	assert.Contains(t, buf.String(), "click here")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\r\n b\tc", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	assert.Equal(t, "2024-06-03T08:00:00Z", formatTime(time.Date(2024, 6, 3, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))))
	assert.Equal(t, "-", formatLine(nil))
	n := 7
	assert.Equal(t, "7", formatLine(&n))
}

func TestChangedFieldsOnlyIncludesSetFlags(t *testing.T) {
	var subject, riskLevel, line string
	cmd := &cobra.Command{Use: "update"}
	cmd.Flags().StringVar(&subject, "subject", "", "")
	cmd.Flags().StringVar(&riskLevel, "risk-level", "", "")
	cmd.Flags().StringVar(&line, "line", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--risk-level", "high", "--line", "4"}))

	fields := changedFields(cmd, map[string]*string{
		"subject":    &subject,
		"risk-level": &riskLevel,
		"line":       &line,
	})
	assert.Equal(t, map[string]any{"risk_level": "high", "line_number": "4"}, fields)
}

func TestReportChangeMissingRow(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	flags := &globalFlags{output: outputText}

	err := reportChange(cmd, flags, "email", 9, false, "deleted")
	assert.ErrorIs(t, err, errNotFound)

	require.NoError(t, reportChange(cmd, flags, "email", 9, true, "deleted"))
	assert.Equal(t, "email 9 deleted\n", out.String())
}
