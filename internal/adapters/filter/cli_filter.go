package filter

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/core"
)

// CliFilter runs the intake pipeline on a single message and prints a summary
type CliFilter struct {
	pipeline *Pipeline
	logger   *zap.Logger
	out      io.Writer
	verbose  bool
}

// NewCliFilter creates a new CLI filter writing its summary to out
func NewCliFilter(pipeline *Pipeline, logger *zap.Logger, out io.Writer, verbose bool) *CliFilter {
	return &CliFilter{
		pipeline: pipeline,
		logger:   logger,
		out:      out,
		verbose:  verbose,
	}
}

// ProcessMessage processes a message and displays the results
func (f *CliFilter) ProcessMessage(ctx context.Context, raw []byte) (*core.IntakeResult, error) {
	start := time.Now()
	result, err := f.pipeline.Process(ctx, raw, "", nil)
	if result == nil {
		return nil, err
	}

	fmt.Fprintf(f.out, "=== Message ===\n")
	fmt.Fprintf(f.out, "From: %s\n", result.Sender)
	fmt.Fprintf(f.out, "Subject: %s\n", result.Subject)
	fmt.Fprintf(f.out, "Fingerprint: %s\n", result.Fingerprint)

	fmt.Fprintf(f.out, "\n=== Findings (%s) ===\n", result.Detector)
	switch {
	case result.Whitelisted:
		fmt.Fprintf(f.out, "Sender is whitelisted, detection skipped\n")
	case len(result.Findings) == 0:
		fmt.Fprintf(f.out, "No suspicious phrases found\n")
	default:
		for _, finding := range result.Findings {
			line := "-"
			if finding.LineNumber != nil {
				line = fmt.Sprint(*finding.LineNumber)
			}
			fmt.Fprintf(f.out, "%-8s line %-4s %q\n", finding.Segment, line, finding.Phrase)
			if f.verbose && finding.Context != "" {
				fmt.Fprintf(f.out, "    %s\n", finding.Context)
			}
		}
	}

	if result.Flagged() {
		fmt.Fprintf(f.out, "\nRecorded as email %d\n", result.EmailID)
	}
	fmt.Fprintf(f.out, "Processing time: %v\n", time.Since(start).Round(time.Millisecond))

	if err != nil {
		f.logger.Error("Failed to record message", zap.Error(err))
	}
	return result, err
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
