package core

import (
	"context"
	"time"
)

// EmailStore persists flagged emails
type EmailStore interface {
	// Upsert inserts the email or refreshes the existing row with the same
	// fingerprint. isNew is true only when a row was created.
	Upsert(ctx context.Context, fingerprint string, email *EmailDescriptor, findingCount int) (id int64, isNew bool, err error)

	// LockForUpdate takes the row lock that serializes writers of one email
	LockForUpdate(ctx context.Context, id int64) (bool, error)

	GetByID(ctx context.Context, id int64) (*FlaggedEmail, error)
	List(ctx context.Context, limit, offset int) ([]FlaggedEmail, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) (bool, error)

	// OlderThan returns the ids of emails flagged before cutoff
	OlderThan(ctx context.Context, cutoff time.Time) ([]int64, error)
	DeleteMany(ctx context.Context, ids []int64) (int64, error)

	// UpdateFields applies the recognised fields and reports whether a row changed
	UpdateFields(ctx context.Context, id int64, fields map[string]any) (bool, error)

	Summary(ctx context.Context) (*ReportSummary, error)
	Recent(ctx context.Context, limit int) ([]RecentActivity, error)
}

// FindingStore persists findings
type FindingStore interface {
	InsertMany(ctx context.Context, emailID int64, findings []FindingInput) error
	CountsByPhrase(ctx context.Context, emailID int64) (PhraseCounts, error)
	CountPhrase(ctx context.Context, emailID int64, phrase string) (int, error)
	DeleteAll(ctx context.Context, emailID int64) (int64, error)

	// DeleteOne removes a finding and returns what it referenced, or nil if absent
	DeleteOne(ctx context.Context, id int64) (*FindingRef, error)
	Get(ctx context.Context, id int64) (*Finding, error)
	List(ctx context.Context, emailID int64) ([]Finding, error)

	// TallyForEmails aggregates findings per phrase across exactly the given emails
	TallyForEmails(ctx context.Context, emailIDs []int64) ([]PhraseTally, error)
	DeleteForEmails(ctx context.Context, emailIDs []int64) (int64, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]any) (bool, error)
}

// PhraseLedger maintains the per phrase aggregate counters
type PhraseLedger interface {
	ApplyDelta(ctx context.Context, phrase string, delta Delta) error
	Top(ctx context.Context, limit int) ([]PhraseStatistic, error)
	Get(ctx context.Context, phrase string) (*PhraseStatistic, error)
}

// Tx exposes the three stores bound to one transaction
type Tx interface {
	Emails() EmailStore
	Findings() FindingStore
	Ledger() PhraseLedger
}

// Store owns the database handle and the transaction boundary
type Store interface {
	// RunInTx commits when fn returns nil and rolls back otherwise
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Reader returns stores that run outside any transaction
	Reader() Tx

	Close() error
}

// Detector finds suspicious phrases in an email
type Detector interface {
	Detect(ctx context.Context, email *Email) ([]FindingInput, error)
	Name() string
}

// ReportCache caches the occurrence report between writes
type ReportCache interface {
	// Get returns ErrNotFound on a miss
	Get(ctx context.Context) (*OccurrenceReport, error)
	Set(ctx context.Context, report *OccurrenceReport) error
	Invalidate(ctx context.Context) error
}

// EventPublisher announces committed ledger changes
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}
