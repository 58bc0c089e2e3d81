package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/metrics"
	"github.com/mikey/phish-ledger/internal/utils"
)

// Routing keys of the events published after a commit
const (
	EventEmailFlagged   = "ledger.email.flagged"
	EventEmailDeleted   = "ledger.email.deleted"
	EventEmailUpdated   = "ledger.email.updated"
	EventFindingDeleted = "ledger.finding.deleted"
	EventFindingUpdated = "ledger.finding.updated"
	EventRetentionSwept = "ledger.retention.swept"
)

const (
	reportTopPhrases     = 10
	reportRecentActivity = 10
	defaultListLimit     = 50
	defaultStatsLimit    = 20
)

// LedgerEvent is the payload published for every committed change
type LedgerEvent struct {
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	EmailID     int64          `json:"email_id,omitempty"`
	FindingID   int64          `json:"finding_id,omitempty"`
	Fingerprint string         `json:"content_fingerprint,omitempty"`
	IsNew       bool           `json:"is_new,omitempty"`
	Deltas      []PhraseDelta  `json:"deltas,omitempty"`
	Cleanup     *CleanupResult `json:"cleanup,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// LedgerService coordinates ingestion, deletion and reporting of flagged
// emails while keeping the phrase ledger consistent with stored findings.
type LedgerService struct {
	store  Store
	cache  ReportCache
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
	tracer trace.Tracer

	// generation counts committed writes; a report built across a commit is not cached
	generation atomic.Uint64
}

// Option customises a LedgerService
type Option func(*LedgerService)

// WithClock replaces the clock used for retention cutoffs and report timestamps
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) {
		s.now = now
	}
}

// NewLedgerService creates a new ledger service. cache and events may be nil.
func NewLedgerService(
	store Store,
	cache ReportCache,
	events EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		store:  store,
		cache:  cache,
		events: events,
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer("github.com/mikey/phish-ledger/internal/core"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store records an email and its findings. Identical content maps to the same
// email id; re-storing it replaces the previous findings and adjusts the
// ledger by the difference.
func (s *LedgerService) Store(ctx context.Context, email *EmailDescriptor, findings []FindingInput) (int64, error) {
	desc, err := normalizeDescriptor(email)
	if err != nil {
		return 0, err
	}
	clean, err := normalizeFindings(findings)
	if err != nil {
		return 0, err
	}

	fingerprint := Fingerprint(desc.RawContent)
	opID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "ledger.Store", trace.WithAttributes(
		attribute.String("ledger.fingerprint", fingerprint),
		attribute.Int("ledger.findings", len(clean)),
	))
	defer span.End()
	start := time.Now()

	var (
		emailID int64
		isNew   bool
		deltas  []PhraseDelta
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		id, created, err := tx.Emails().Upsert(ctx, fingerprint, desc, len(clean))
		if err != nil {
			return err
		}
		locked, err := tx.Emails().LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !locked {
			return fmt.Errorf("email %d disappeared before it could be locked", id)
		}

		old := PhraseCounts{}
		if !created {
			if old, err = tx.Findings().CountsByPhrase(ctx, id); err != nil {
				return err
			}
			if _, err := tx.Findings().DeleteAll(ctx, id); err != nil {
				return err
			}
		}
		if err := tx.Findings().InsertMany(ctx, id, clean); err != nil {
			return err
		}

		deltas = PhraseDeltas(old, CountFindings(clean))
		if err := applyDeltas(ctx, tx.Ledger(), deltas); err != nil {
			return err
		}
		emailID, isNew = id, created
		return nil
	})
	metrics.RecordOperation("store", err, time.Since(start))
	if err != nil {
		s.fail(span, "Failed to store flagged email", err,
			zap.String("op_id", opID),
			zap.String("fingerprint", fingerprint))
		return 0, err
	}

	metrics.IncrementEmailsStored(isNew)
	metrics.AddLedgerDeltas("store", len(deltas))
	s.logger.Info("Stored flagged email",
		zap.String("op_id", opID),
		zap.Int64("email_id", emailID),
		zap.Bool("is_new", isNew),
		zap.Int("findings", len(clean)),
		zap.Int("ledger_deltas", len(deltas)))

	s.afterCommit(ctx, EventEmailFlagged, &LedgerEvent{
		EventID:     opID,
		Type:        EventEmailFlagged,
		EmailID:     emailID,
		Fingerprint: fingerprint,
		IsNew:       isNew,
		Deltas:      deltas,
	})
	return emailID, nil
}

// DeleteEmail removes an email, its findings and their ledger contribution.
// It returns false when the email does not exist.
func (s *LedgerService) DeleteEmail(ctx context.Context, id int64) (bool, error) {
	opID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "ledger.DeleteEmail", trace.WithAttributes(attribute.Int64("ledger.email_id", id)))
	defer span.End()
	start := time.Now()

	var (
		found  bool
		deltas []PhraseDelta
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.Emails().LockForUpdate(ctx, id)
		if err != nil || !locked {
			return err
		}
		counts, err := tx.Findings().CountsByPhrase(ctx, id)
		if err != nil {
			return err
		}
		deltas = RemovalDeltas(counts)
		if err := applyDeltas(ctx, tx.Ledger(), deltas); err != nil {
			return err
		}
		if _, err := tx.Findings().DeleteAll(ctx, id); err != nil {
			return err
		}
		if found, err = tx.Emails().Delete(ctx, id); err != nil {
			return err
		}
		return nil
	})
	metrics.RecordOperation("delete_email", err, time.Since(start))
	if err != nil {
		s.fail(span, "Failed to delete flagged email", err,
			zap.String("op_id", opID),
			zap.Int64("email_id", id))
		return false, err
	}
	if !found {
		s.logger.Debug("Flagged email not found", zap.Int64("email_id", id))
		return false, nil
	}

	metrics.AddLedgerDeltas("delete_email", len(deltas))
	s.logger.Info("Deleted flagged email",
		zap.String("op_id", opID),
		zap.Int64("email_id", id),
		zap.Int("ledger_deltas", len(deltas)))
	s.afterCommit(ctx, EventEmailDeleted, &LedgerEvent{
		EventID: opID,
		Type:    EventEmailDeleted,
		EmailID: id,
		Deltas:  deltas,
	})
	return true, nil
}

// DeleteFinding removes a single finding. The phrase loses one occurrence and
// one affected email when it was the email's last finding for that phrase.
func (s *LedgerService) DeleteFinding(ctx context.Context, id int64) (bool, error) {
	opID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "ledger.DeleteFinding", trace.WithAttributes(attribute.Int64("ledger.finding_id", id)))
	defer span.End()
	start := time.Now()

	var (
		ref    *FindingRef
		deltas []PhraseDelta
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		finding, err := tx.Findings().Get(ctx, id)
		if err != nil || finding == nil {
			return err
		}
		locked, err := tx.Emails().LockForUpdate(ctx, finding.EmailID)
		if err != nil || !locked {
			return err
		}

		// The finding read above predates the lock and may have been moved to
		// another phrase since; count the phrase of the row actually removed.
		if ref, err = tx.Findings().DeleteOne(ctx, id); err != nil || ref == nil {
			return err
		}
		remaining, err := tx.Findings().CountPhrase(ctx, ref.EmailID, ref.Phrase)
		if err != nil {
			return err
		}

		deltas = PhraseDeltas(PhraseCounts{ref.Phrase: remaining + 1}, PhraseCounts{ref.Phrase: remaining})
		return applyDeltas(ctx, tx.Ledger(), deltas)
	})
	metrics.RecordOperation("delete_finding", err, time.Since(start))
	if err != nil {
		s.fail(span, "Failed to delete finding", err,
			zap.String("op_id", opID),
			zap.Int64("finding_id", id))
		return false, err
	}
	if ref == nil {
		s.logger.Debug("Finding not found", zap.Int64("finding_id", id))
		return false, nil
	}

	metrics.AddLedgerDeltas("delete_finding", len(deltas))
	s.logger.Info("Deleted finding",
		zap.String("op_id", opID),
		zap.Int64("finding_id", id),
		zap.Int64("email_id", ref.EmailID),
		zap.String("phrase", ref.Phrase))
	s.afterCommit(ctx, EventFindingDeleted, &LedgerEvent{
		EventID:   opID,
		Type:      EventFindingDeleted,
		EmailID:   ref.EmailID,
		FindingID: id,
		Deltas:    deltas,
	})
	return true, nil
}

// UpdateEmailFields changes descriptive fields of an email. Only subject,
// sender, recipient, message_date and risk_level are recognised; when none of
// them is present nothing is written and false is returned.
func (s *LedgerService) UpdateEmailFields(ctx context.Context, id int64, fields map[string]any) (bool, error) {
	clean, err := normalizeEmailFields(fields)
	if err != nil {
		return false, err
	}

	var updated bool
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		updated, err = tx.Emails().UpdateFields(ctx, id, clean)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to update flagged email", zap.Int64("email_id", id), zap.Error(err))
		return false, err
	}
	if updated {
		s.logger.Info("Updated flagged email", zap.Int64("email_id", id), zap.Int("fields", len(clean)))
		s.afterCommit(ctx, EventEmailUpdated, &LedgerEvent{
			EventID: uuid.NewString(),
			Type:    EventEmailUpdated,
			EmailID: id,
		})
	}
	return updated, nil
}

// UpdateFinding changes a finding. Recognised fields are phrase, segment,
// line_number and context. Moving a finding to another phrase moves its
// ledger contribution with it.
func (s *LedgerService) UpdateFinding(ctx context.Context, id int64, fields map[string]any) (bool, error) {
	clean, err := normalizeFindingFields(fields)
	if err != nil {
		return false, err
	}

	var (
		updated bool
		emailID int64
		deltas  []PhraseDelta
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		finding, err := tx.Findings().Get(ctx, id)
		if err != nil || finding == nil {
			return err
		}
		locked, err := tx.Emails().LockForUpdate(ctx, finding.EmailID)
		if err != nil || !locked {
			return err
		}
		if finding, err = tx.Findings().Get(ctx, id); err != nil || finding == nil {
			return err
		}
		emailID = finding.EmailID

		newPhrase, moves := clean["phrase"].(string)
		moves = moves && newPhrase != finding.Phrase
		var oldCount, newCount int
		if moves {
			if oldCount, err = tx.Findings().CountPhrase(ctx, emailID, finding.Phrase); err != nil {
				return err
			}
			if newCount, err = tx.Findings().CountPhrase(ctx, emailID, newPhrase); err != nil {
				return err
			}
		}

		if updated, err = tx.Findings().UpdateFields(ctx, id, clean); err != nil || !updated {
			return err
		}
		if !moves {
			return nil
		}
		deltas = []PhraseDelta{
			{Phrase: finding.Phrase, Delta: ComputeDelta(oldCount, oldCount-1)},
			{Phrase: newPhrase, Delta: ComputeDelta(newCount, newCount+1)},
		}
		sortDeltas(deltas)
		return applyDeltas(ctx, tx.Ledger(), deltas)
	})
	if err != nil {
		s.logger.Error("Failed to update finding", zap.Int64("finding_id", id), zap.Error(err))
		return false, err
	}
	if updated {
		s.logger.Info("Updated finding",
			zap.Int64("finding_id", id),
			zap.Int64("email_id", emailID),
			zap.Int("ledger_deltas", len(deltas)))
		s.afterCommit(ctx, EventFindingUpdated, &LedgerEvent{
			EventID:   uuid.NewString(),
			Type:      EventFindingUpdated,
			EmailID:   emailID,
			FindingID: id,
			Deltas:    deltas,
		})
	}
	return updated, nil
}

// Cleanup removes every email flagged more than ageDays ago together with its
// findings and ledger contribution.
func (s *LedgerService) Cleanup(ctx context.Context, ageDays int) (*CleanupResult, error) {
	if ageDays < 0 {
		return nil, fmt.Errorf("age must not be negative, got %d days: %w", ageDays, ErrValidation)
	}

	opID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "ledger.Cleanup", trace.WithAttributes(attribute.Int("ledger.age_days", ageDays)))
	defer span.End()
	start := time.Now()

	result := &CleanupResult{
		AgeDays: ageDays,
		Cutoff:  s.now().UTC().Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
	var deltas []PhraseDelta
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		ids, err := tx.Emails().OlderThan(ctx, result.Cutoff)
		if err != nil || len(ids) == 0 {
			return err
		}
		tallies, err := tx.Findings().TallyForEmails(ctx, ids)
		if err != nil {
			return err
		}
		if result.FindingsDeleted, err = tx.Findings().DeleteForEmails(ctx, ids); err != nil {
			return err
		}
		deltas = TallyDeltas(tallies)
		if err := applyDeltas(ctx, tx.Ledger(), deltas); err != nil {
			return err
		}
		result.EmailsDeleted, err = tx.Emails().DeleteMany(ctx, ids)
		return err
	})
	metrics.RecordOperation("cleanup", err, time.Since(start))
	if err != nil {
		s.fail(span, "Failed to clean up old emails", err,
			zap.String("op_id", opID),
			zap.Int("age_days", ageDays))
		return nil, err
	}

	metrics.AddRetentionDeleted(result.EmailsDeleted, result.FindingsDeleted)
	metrics.AddLedgerDeltas("cleanup", len(deltas))
	s.logger.Info("Cleaned up old emails",
		zap.String("op_id", opID),
		zap.Int("age_days", ageDays),
		zap.Time("cutoff", result.Cutoff),
		zap.Int64("emails_deleted", result.EmailsDeleted),
		zap.Int64("findings_deleted", result.FindingsDeleted))
	if result.EmailsDeleted > 0 {
		s.afterCommit(ctx, EventRetentionSwept, &LedgerEvent{
			EventID: opID,
			Type:    EventRetentionSwept,
			Deltas:  deltas,
			Cleanup: result,
		})
	}
	return result, nil
}

// GetEmail returns the email with the given id, or nil when it does not exist
func (s *LedgerService) GetEmail(ctx context.Context, id int64) (*FlaggedEmail, error) {
	return s.store.Reader().Emails().GetByID(ctx, id)
}

// ListEmails returns emails, most recently flagged first
func (s *LedgerService) ListEmails(ctx context.Context, limit, offset int) ([]FlaggedEmail, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Reader().Emails().List(ctx, limit, offset)
}

// GetEmailCount returns the number of stored emails
func (s *LedgerService) GetEmailCount(ctx context.Context) (int, error) {
	return s.store.Reader().Emails().Count(ctx)
}

// GetFindings returns the findings of one email in creation order
func (s *LedgerService) GetFindings(ctx context.Context, emailID int64) ([]Finding, error) {
	return s.store.Reader().Findings().List(ctx, emailID)
}

// GetPhraseStatistics returns the most frequent phrases
func (s *LedgerService) GetPhraseStatistics(ctx context.Context, limit int) ([]PhraseStatistic, error) {
	if limit <= 0 {
		limit = defaultStatsLimit
	}
	return s.store.Reader().Ledger().Top(ctx, limit)
}

// GetPhraseStatistic returns the ledger row of one phrase, or nil
func (s *LedgerService) GetPhraseStatistic(ctx context.Context, phrase string) (*PhraseStatistic, error) {
	return s.store.Reader().Ledger().Get(ctx, phrase)
}

// GetOccurrenceReport builds the summary report, served from the report
// cache when one is configured and still valid.
func (s *LedgerService) GetOccurrenceReport(ctx context.Context) (*OccurrenceReport, error) {
	if s.cache != nil {
		report, err := s.cache.Get(ctx)
		if err == nil {
			s.logger.Debug("Report cache hit")
			return report, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to read report cache", zap.Error(err))
		}
	}

	gen := s.generation.Load()
	reader := s.store.Reader()
	summary, err := reader.Emails().Summary(ctx)
	if err != nil {
		return nil, err
	}
	top, err := reader.Ledger().Top(ctx, reportTopPhrases)
	if err != nil {
		return nil, err
	}
	recent, err := reader.Emails().Recent(ctx, reportRecentActivity)
	if err != nil {
		return nil, err
	}
	report := &OccurrenceReport{
		Summary:        *summary,
		TopPhrases:     top,
		RecentActivity: recent,
		GeneratedAt:    s.now().UTC(),
	}

	if s.cache != nil && s.generation.Load() == gen {
		if err := s.cache.Set(ctx, report); err != nil {
			s.logger.Warn("Failed to update report cache", zap.Error(err))
		} else if s.generation.Load() != gen {
			// a write committed between the check and Set
			s.invalidateReport(ctx)
		}
	}
	return report, nil
}

func (s *LedgerService) afterCommit(ctx context.Context, routingKey string, event *LedgerEvent) {
	s.generation.Add(1)
	s.invalidateReport(ctx)
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	if err := s.events.Publish(ctx, routingKey, event); err != nil {
		s.logger.Warn("Failed to publish ledger event",
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}

func (s *LedgerService) invalidateReport(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("Failed to invalidate report cache", zap.Error(err))
	}
}

func (s *LedgerService) fail(span trace.Span, msg string, err error, fields ...zap.Field) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error(msg, append(fields, zap.Error(err))...)
}

func applyDeltas(ctx context.Context, ledger PhraseLedger, deltas []PhraseDelta) error {
	for _, d := range deltas {
		if err := ledger.ApplyDelta(ctx, d.Phrase, d.Delta); err != nil {
			return err
		}
	}
	return nil
}

func normalizeDescriptor(email *EmailDescriptor) (*EmailDescriptor, error) {
	if email == nil {
		return nil, fmt.Errorf("email descriptor is required: %w", ErrValidation)
	}
	desc := *email
	desc.Subject = utils.ClipRunes(desc.Subject, MaxSubjectLen)
	desc.Sender = utils.ClipRunes(desc.Sender, MaxAddressLen)
	desc.Recipient = utils.ClipRunes(desc.Recipient, MaxAddressLen)
	if desc.RiskLevel == "" {
		desc.RiskLevel = DefaultRiskLevel
	}
	if !ValidRiskLevel(desc.RiskLevel) {
		return nil, fmt.Errorf("unknown risk level %q: %w", desc.RiskLevel, ErrValidation)
	}
	if desc.MessageDate != nil {
		d := desc.MessageDate.UTC()
		desc.MessageDate = &d
	}
	return &desc, nil
}

func normalizeFindings(findings []FindingInput) ([]FindingInput, error) {
	clean := make([]FindingInput, len(findings))
	for i, f := range findings {
		if f.Phrase == "" {
			return nil, fmt.Errorf("finding %d has an empty phrase: %w", i, ErrValidation)
		}
		f.Phrase = utils.ClipRunes(f.Phrase, MaxPhraseLen)
		f.Segment = utils.ClipRunes(f.Segment, MaxSegmentLen)
		clean[i] = f
	}
	return clean, nil
}

func normalizeEmailFields(fields map[string]any) (map[string]any, error) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "subject":
			if s, ok := v.(string); ok {
				v = utils.ClipRunes(s, MaxSubjectLen)
			}
		case "sender", "recipient":
			if s, ok := v.(string); ok {
				v = utils.ClipRunes(s, MaxAddressLen)
			}
		case "risk_level":
			if s, ok := v.(string); !ok || !ValidRiskLevel(s) {
				return nil, fmt.Errorf("unknown risk level %v: %w", v, ErrValidation)
			}
		}
		clean[k] = v
	}
	return clean, nil
}

func normalizeFindingFields(fields map[string]any) (map[string]any, error) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "phrase":
			s, ok := v.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("phrase must be a non-empty string: %w", ErrValidation)
			}
			v = utils.ClipRunes(s, MaxPhraseLen)
		case "segment":
			if s, ok := v.(string); ok {
				v = utils.ClipRunes(s, MaxSegmentLen)
			}
		}
		clean[k] = v
	}
	return clean, nil
}
