package filter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/metrics"
	"github.com/mikey/phish-ledger/internal/whitelist"
)

// Intake outcomes recorded in metrics
const (
	OutcomeFlagged     = "flagged"
	OutcomeClean       = "clean"
	OutcomeWhitelisted = "whitelisted"
	OutcomeError       = "error"
)

// Recorder stores a flagged email with its findings
type Recorder interface {
	Store(ctx context.Context, email *core.EmailDescriptor, findings []core.FindingInput) (int64, error)
}

// Pipeline parses a message, runs the detector and records any findings
type Pipeline struct {
	recorder  Recorder
	detector  core.Detector
	whitelist *whitelist.Checker
	logger    *zap.Logger
	timeout   time.Duration
}

// NewPipeline creates a new intake pipeline
func NewPipeline(recorder Recorder, detector core.Detector, checker *whitelist.Checker, logger *zap.Logger, timeout time.Duration) *Pipeline {
	return &Pipeline{
		recorder:  recorder,
		detector:  detector,
		whitelist: checker,
		logger:    logger,
		timeout:   timeout,
	}
}

// Process handles one raw message. envelopeFrom and recipients come from the SMTP
// envelope and are used when the headers lack a sender or recipient. When detection
// succeeds but recording fails the result is returned together with the error.
func (p *Pipeline) Process(ctx context.Context, raw []byte, envelopeFrom string, recipients []string) (*core.IntakeResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	email, err := ParseMessage(raw)
	if err != nil {
		metrics.IncrementIntake(OutcomeError)
		return nil, err
	}
	if email.From == "" {
		email.From = envelopeFrom
	}
	if len(email.To) == 0 {
		email.To = recipients
	}

	result := &core.IntakeResult{
		Fingerprint: core.Fingerprint(raw),
		Subject:     email.Subject,
		Sender:      email.From,
		Detector:    p.detector.Name(),
	}

	if p.whitelist != nil && p.whitelist.IsWhitelisted(email.From) {
		result.Whitelisted = true
		metrics.IncrementIntake(OutcomeWhitelisted)
		return result, nil
	}

	findings, err := p.detector.Detect(ctx, email)
	if err != nil {
		metrics.IncrementIntake(OutcomeError)
		return nil, fmt.Errorf("detector %s failed: %w", p.detector.Name(), err)
	}
	result.Findings = findings

	if len(findings) == 0 {
		metrics.IncrementIntake(OutcomeClean)
		p.logger.Debug("No findings", zap.String("fingerprint", result.Fingerprint))
		return result, nil
	}

	recipient := ""
	if len(email.To) > 0 {
		recipient = email.To[0]
	}
	id, err := p.recorder.Store(ctx, &core.EmailDescriptor{
		Subject:     email.Subject,
		Sender:      email.From,
		Recipient:   recipient,
		MessageDate: email.Date,
		RawContent:  raw,
	}, findings)
	if err != nil {
		metrics.IncrementIntake(OutcomeError)
		return result, fmt.Errorf("failed to record findings: %w", err)
	}
	result.EmailID = id
	metrics.IncrementIntake(OutcomeFlagged)

	p.logger.Info("Flagged email recorded",
		zap.Int64("email_id", id),
		zap.String("fingerprint", result.Fingerprint),
		zap.Int("findings", len(findings)))
	return result, nil
}
