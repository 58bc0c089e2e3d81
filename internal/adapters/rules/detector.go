package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/core"
)

// Segments a rule can target
const (
	SegmentSubject = "subject"
	SegmentBody    = "body"
	SegmentHeaders = "headers"
	SegmentAny     = "any"
)

// Detector matches configured phrases against segments of a message
type Detector struct {
	rules  []config.Rule
	logger *zap.Logger
}

// NewDetector validates the rules and creates a new rules detector
func NewDetector(rules []config.Rule, logger *zap.Logger) (*Detector, error) {
	normalized := make([]config.Rule, 0, len(rules))
	for i, r := range rules {
		segment := strings.ToLower(strings.TrimSpace(r.Segment))
		phrase := strings.TrimSpace(r.Phrase)
		if phrase == "" {
			return nil, fmt.Errorf("rule %d: empty phrase", i)
		}
		switch segment {
		case SegmentSubject, SegmentBody, SegmentHeaders, SegmentAny:
		case "":
			segment = SegmentAny
		default:
			return nil, fmt.Errorf("rule %d: unknown segment %q", i, r.Segment)
		}
		normalized = append(normalized, config.Rule{Segment: segment, Phrase: phrase})
	}
	return &Detector{rules: normalized, logger: logger}, nil
}

// Name returns the detector name
func (d *Detector) Name() string {
	return "rules"
}

// Detect returns one finding per line on which a rule's phrase occurs
func (d *Detector) Detect(ctx context.Context, email *core.Email) ([]core.FindingInput, error) {
	segments := map[string][]string{}
	var findings []core.FindingInput

	for _, rule := range d.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lines, ok := segments[rule.Segment]
		if !ok {
			lines = splitLines(segmentText(email, rule.Segment))
			segments[rule.Segment] = lines
		}

		needle := strings.ToLower(rule.Phrase)
		for i, line := range lines {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			lineNumber := i + 1
			findings = append(findings, core.FindingInput{
				Phrase:     rule.Phrase,
				Segment:    rule.Segment,
				LineNumber: &lineNumber,
				Context:    contextAround(lines, i),
			})
		}
	}

	d.logger.Debug("Rules evaluated",
		zap.Int("rules", len(d.rules)),
		zap.Int("findings", len(findings)))
	return findings, nil
}

func segmentText(email *core.Email, segment string) string {
	switch segment {
	case SegmentSubject:
		return email.Subject
	case SegmentBody:
		return email.Body
	case SegmentHeaders:
		return headerText(email.Headers)
	default:
		if len(email.Raw) > 0 {
			return string(email.Raw)
		}
		return headerText(email.Headers) + "\n\n" + email.Body
	}
}

func headerText(headers map[string][]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// contextAround returns the line at i with one line either side
func contextAround(lines []string, i int) string {
	start := max(0, i-1)
	end := min(len(lines), i+2)
	return strings.Join(lines[start:end], "\n")
}

var _ core.Detector = (*Detector)(nil)
