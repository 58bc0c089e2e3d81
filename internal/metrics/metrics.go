package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger operation latency in seconds
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phish_ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "status"},
	)

	// Emails stored, labelled new or reanalyzed
	EmailsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phish_ledger_emails_stored_total",
			Help: "Total number of emails stored in the ledger",
		},
		[]string{"result"},
	)

	// Ledger rows touched
	LedgerDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phish_ledger_deltas_applied_total",
			Help: "Total number of phrase statistic deltas applied",
		},
		[]string{"operation"},
	)

	// Emails and findings removed by retention sweeps
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phish_ledger_retention_deleted_total",
			Help: "Total number of rows removed by retention sweeps",
		},
		[]string{"kind"},
	)

	// Messages handled by the intake filter
	IntakeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phish_ledger_intake_messages_total",
			Help: "Total number of messages seen by the intake filter",
		},
		[]string{"outcome"}, // outcome: flagged, clean, whitelisted, error
	)

	// Reconnects performed by the store
	StoreReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phish_ledger_store_reconnects_total",
			Help: "Total number of database reconnects",
		},
	)
)

// RecordOperation records the latency of a ledger operation
func RecordOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	OperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// IncrementEmailsStored counts a stored email
func IncrementEmailsStored(isNew bool) {
	result := "reanalyzed"
	if isNew {
		result = "new"
	}
	EmailsStored.WithLabelValues(result).Inc()
}

// AddLedgerDeltas counts applied ledger deltas
func AddLedgerDeltas(operation string, n int) {
	LedgerDeltas.WithLabelValues(operation).Add(float64(n))
}

// AddRetentionDeleted counts rows removed by a sweep
func AddRetentionDeleted(emails, findings int64) {
	RetentionDeleted.WithLabelValues("emails").Add(float64(emails))
	RetentionDeleted.WithLabelValues("findings").Add(float64(findings))
}

// IncrementIntake counts a message handled by the intake filter
func IncrementIntake(outcome string) {
	IntakeMessages.WithLabelValues(outcome).Inc()
}

// IncrementReconnects counts a store reconnect
func IncrementReconnects() {
	StoreReconnects.Inc()
}
