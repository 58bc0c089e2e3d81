package ports

import (
	"context"

	"github.com/mikey/phish-ledger/internal/core"
)

// EmailFilter defines the interface for message intake front ends
type EmailFilter interface {
	// ProcessMessage runs detection on a raw message and records any findings
	ProcessMessage(ctx context.Context, raw []byte) (*core.IntakeResult, error)

	// Start starts the filter service
	Start() error

	// Stop stops the filter service
	Stop() error
}
