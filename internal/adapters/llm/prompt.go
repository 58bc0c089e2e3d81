// Package llm holds the prompt and response handling shared by the model backed detectors.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/phish-ledger/internal/core"
)

// SystemPrompt is sent as the system message where the provider supports one
const SystemPrompt = "You are a phishing detection system. Respond only with JSON."

const promptFormat = `You are a phishing detection system. Read the following email and list every phrase in it
that is typical of phishing (urgency, credential requests, payment pressure, impersonation, suspicious links).
Respond with a JSON object of the form:
{"findings": [{"phrase": string, "segment": "subject" | "body" | "headers", "line_number": number, "context": string}]}
- phrase: the suspicious text exactly as it appears, lower case
- segment: the part of the email the phrase was found in
- line_number: 1-based line within that segment
- context: the line containing the phrase
Return {"findings": []} if nothing is suspicious.

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// ErrNoJSON is returned when a model response contains no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

type findingsResponse struct {
	Findings []core.FindingInput `json:"findings"`
}

// BuildPrompt renders the detection prompt for an email whose body has already been excerpted
func BuildPrompt(email *core.Email, body string) string {
	to := ""
	if len(email.To) > 0 {
		to = email.To[0]
		if len(email.To) > 1 {
			to += fmt.Sprintf(" and %d others", len(email.To)-1)
		}
	}
	return fmt.Sprintf(promptFormat, email.From, to, email.Subject, body)
}

// ParseFindings decodes a model response, tolerating prose around the JSON object
func ParseFindings(text string) ([]core.FindingInput, error) {
	var resp findingsResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %w", ErrNoJSON, err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse model response as JSON: %w", err)
		}
	}

	findings := resp.Findings[:0]
	for _, f := range resp.Findings {
		f.Phrase = strings.TrimSpace(f.Phrase)
		if f.Phrase == "" {
			continue
		}
		if f.Segment == "" {
			f.Segment = "body"
		}
		if f.LineNumber != nil && *f.LineNumber < 1 {
			f.LineNumber = nil
		}
		findings = append(findings, f)
	}
	return findings, nil
}
