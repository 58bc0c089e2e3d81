package core

import (
	"time"
)

// Column limits applied to text before it is written
const (
	MaxSubjectLen = 500
	MaxAddressLen = 200
	MaxPhraseLen  = 500
	MaxSegmentLen = 100
)

// Risk levels accepted for a flagged email
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"

	DefaultRiskLevel = RiskMedium
)

// Email represents a parsed email message handed to a Detector
type Email struct {
	From    string
	To      []string
	Subject string
	Body    string
	Date    *time.Time
	Headers map[string][]string
	Raw     []byte
}

// EmailDescriptor is the caller supplied description of an email being stored
type EmailDescriptor struct {
	Subject     string
	Sender      string
	Recipient   string
	MessageDate *time.Time
	RiskLevel   string
	RawContent  []byte
}

// FindingInput is a single phrase match reported by a detector
type FindingInput struct {
	Phrase     string `json:"phrase" yaml:"phrase"`
	Segment    string `json:"segment" yaml:"segment"`
	LineNumber *int   `json:"line_number,omitempty" yaml:"line_number,omitempty"`
	Context    string `json:"context" yaml:"context"`
}

// FlaggedEmail is a stored email, unique by content fingerprint
type FlaggedEmail struct {
	ID            int64      `json:"id" yaml:"id"`
	Fingerprint   string     `json:"content_fingerprint" yaml:"content_fingerprint"`
	Subject       string     `json:"subject" yaml:"subject"`
	Sender        string     `json:"sender" yaml:"sender"`
	Recipient     string     `json:"recipient" yaml:"recipient"`
	MessageDate   *time.Time `json:"message_date,omitempty" yaml:"message_date,omitempty"`
	TotalFindings int        `json:"total_findings" yaml:"total_findings"`
	RawContent    string     `json:"raw_content,omitempty" yaml:"raw_content,omitempty"`
	RiskLevel     string     `json:"risk_level" yaml:"risk_level"`
	TimesAnalyzed int        `json:"times_analyzed" yaml:"times_analyzed"`
	FlaggedAt     time.Time  `json:"flagged_at" yaml:"flagged_at"`
}

// Finding is a stored phrase match belonging to one flagged email
type Finding struct {
	ID         int64     `json:"id" yaml:"id"`
	EmailID    int64     `json:"flagged_email_id" yaml:"flagged_email_id"`
	Phrase     string    `json:"phrase" yaml:"phrase"`
	Segment    string    `json:"segment" yaml:"segment"`
	LineNumber *int      `json:"line_number,omitempty" yaml:"line_number,omitempty"`
	Context    string    `json:"context" yaml:"context"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// FindingRef identifies a removed finding
type FindingRef struct {
	ID      int64
	EmailID int64
	Phrase  string
}

// PhraseStatistic is one row of the global phrase ledger
type PhraseStatistic struct {
	ID               int64     `json:"id" yaml:"id"`
	Phrase           string    `json:"phrase" yaml:"phrase"`
	TotalOccurrences int       `json:"total_occurrences" yaml:"total_occurrences"`
	EmailsAffected   int       `json:"emails_affected" yaml:"emails_affected"`
	FirstSeen        time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen         time.Time `json:"last_seen" yaml:"last_seen"`
}

// PhraseCounts maps a phrase to its number of findings within one email
type PhraseCounts map[string]int

// PhraseTally aggregates findings for one phrase across a set of emails
type PhraseTally struct {
	Phrase      string
	Occurrences int
	Emails      int
}

// ReportSummary holds the headline numbers of an occurrence report
type ReportSummary struct {
	TotalFlaggedEmails int `json:"total_flagged_emails" yaml:"total_flagged_emails"`
	TotalFindings      int `json:"total_findings" yaml:"total_findings"`
	UniqueEmails       int `json:"unique_emails" yaml:"unique_emails"`
}

// RecentActivity is a short view of a recently flagged email
type RecentActivity struct {
	ID            int64     `json:"id" yaml:"id"`
	Subject       string    `json:"subject" yaml:"subject"`
	FlaggedAt     time.Time `json:"flagged_at" yaml:"flagged_at"`
	TotalFindings int       `json:"total_findings" yaml:"total_findings"`
}

// OccurrenceReport summarizes the ledger and recent activity
type OccurrenceReport struct {
	Summary        ReportSummary     `json:"summary" yaml:"summary"`
	TopPhrases     []PhraseStatistic `json:"top_phrases" yaml:"top_phrases"`
	RecentActivity []RecentActivity  `json:"recent_activity" yaml:"recent_activity"`
	GeneratedAt    time.Time         `json:"generated_at" yaml:"generated_at"`
}

// CleanupResult describes the outcome of a retention sweep
type CleanupResult struct {
	EmailsDeleted   int64     `json:"emails_deleted" yaml:"emails_deleted"`
	FindingsDeleted int64     `json:"findings_deleted" yaml:"findings_deleted"`
	AgeDays         int       `json:"days_old" yaml:"days_old"`
	Cutoff          time.Time `json:"cutoff" yaml:"cutoff"`
}

// CountFindings groups findings by phrase
func CountFindings(findings []FindingInput) PhraseCounts {
	counts := make(PhraseCounts, len(findings))
	for _, f := range findings {
		counts[f.Phrase]++
	}
	return counts
}

// ValidRiskLevel reports whether level is one of the known risk levels
func ValidRiskLevel(level string) bool {
	switch level {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// IntakeResult describes what the intake pipeline did with one message
type IntakeResult struct {
	EmailID     int64          `json:"email_id,omitempty" yaml:"email_id,omitempty"`
	Fingerprint string         `json:"content_fingerprint" yaml:"content_fingerprint"`
	Subject     string         `json:"subject" yaml:"subject"`
	Sender      string         `json:"sender" yaml:"sender"`
	Detector    string         `json:"detector,omitempty" yaml:"detector,omitempty"`
	Findings    []FindingInput `json:"findings" yaml:"findings"`
	Whitelisted bool           `json:"whitelisted,omitempty" yaml:"whitelisted,omitempty"`
}

// Flagged reports whether the message was recorded in the ledger
func (r *IntakeResult) Flagged() bool {
	return r.EmailID != 0
}
