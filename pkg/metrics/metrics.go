// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal tracks sync runs by trigger and status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	// SyncRunDuration tracks sync run duration in seconds
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// SyncRunsSkipped tracks ticks dropped because a run was already in progress
	SyncRunsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "runs_skipped_total",
			Help:      "Total number of triggers skipped because a run was in progress",
		},
		[]string{"trigger"},
	)

	// SyncRunInProgress is 1 while a run is executing
	SyncRunInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "run_in_progress",
			Help:      "Whether a sync run is currently executing",
		},
	)

	// TariffRecordsTotal tracks record counts per pipeline stage
	TariffRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "tariffs",
			Name:      "records_total",
			Help:      "Total number of tariff records by stage (fetched, persisted, exported)",
		},
		[]string{"stage"},
	)

	// DestinationPublishesTotal tracks per-destination publish outcomes
	DestinationPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "exporter",
			Name:      "publishes_total",
			Help:      "Total number of destination publishes by status",
		},
		[]string{"status"},
	)

	// DestinationPublishDuration tracks per-destination publish duration including retries
	DestinationPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "exporter",
			Name:      "publish_duration_seconds",
			Help:      "Duration of destination publishes in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// RetryAttemptsTotal tracks retried attempts per operation
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of failed attempts that were retried",
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"client", "method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"client", "method"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordSyncRun records a finished sync run
func RecordSyncRun(trigger, status string, durationSeconds float64) {
	SyncRunsTotal.WithLabelValues(trigger, status).Inc()
	SyncRunDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordSkippedRun records a trigger dropped by the overlap guard
func RecordSkippedRun(trigger string) {
	SyncRunsSkipped.WithLabelValues(trigger).Inc()
}

// SetRunInProgress flips the in-progress gauge
func SetRunInProgress(running bool) {
	if running {
		SyncRunInProgress.Set(1)
		return
	}
	SyncRunInProgress.Set(0)
}

// RecordTariffRecords adds n records to a stage counter
func RecordTariffRecords(stage string, n int) {
	if n <= 0 {
		return
	}
	TariffRecordsTotal.WithLabelValues(stage).Add(float64(n))
}

// RecordDestinationPublish records one destination publish outcome
func RecordDestinationPublish(status string, durationSeconds float64) {
	DestinationPublishesTotal.WithLabelValues(status).Inc()
	DestinationPublishDuration.Observe(durationSeconds)
}

// RecordRetry records a failed attempt that is about to be retried
func RecordRetry(operation string) {
	RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(client, method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(client, method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(client, method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordDatabaseQuery records a database operation duration
func RecordDatabaseQuery(operation string, durationSeconds float64) {
	DatabaseQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}
