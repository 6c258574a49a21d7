// Package metrics provides Prometheus metrics for the claims feed pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	BatchesProcessed      *prometheus.CounterVec
	RecordsValidated      *prometheus.CounterVec
	RecordFailures        prometheus.Counter
	ClaimsPromoted        prometheus.Counter
	BatchDuration         prometheus.Histogram
	QueueDepth            prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		BatchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_batches_processed_total",
			Help: "Total batch files processed, by final status",
		}, []string{"status"}),
		RecordsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_records_validated_total",
			Help: "Total claim records evaluated, by verdict",
		}, []string{"status"}),
		RecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_record_failures_total",
			Help: "Total records demoted to invalid by processing failures",
		}),
		ClaimsPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_promoted_total",
			Help: "Total valid claims forwarded to adjudication",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "claims_batch_duration_seconds",
			Help:    "Batch file processing duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_queue_depth",
			Help: "Batch files waiting in the intake queue",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.BatchesProcessed,
		m.RecordsValidated,
		m.RecordFailures,
		m.ClaimsPromoted,
		m.BatchDuration,
		m.QueueDepth,
		m.KafkaMessagesProduced,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
