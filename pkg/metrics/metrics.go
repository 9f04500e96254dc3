// Package metrics registers the Prometheus instruments for webhook
// ingestion and queue processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the application's Prometheus instruments.
type Metrics struct {
	WebhookReceived  *prometheus.CounterVec
	WebhookOutcomes  *prometheus.CounterVec
	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	JobsDeadLettered *prometheus.CounterVec
	LedgerMutations  *prometheus.CounterVec
}

// New registers the instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhookReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_webhooks_received_total",
			Help: "Inbound webhook deliveries by source.",
		}, []string{"source"}),
		WebhookOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_webhook_outcomes_total",
			Help: "Terminal webhook processing outcomes by source and outcome.",
		}, []string{"source", "outcome"}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_queue_jobs_processed_total",
			Help: "Queue jobs processed by queue, job name and result.",
		}, []string{"queue", "job", "result"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_queue_job_duration_seconds",
			Help:    "Queue job execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "job"}),
		JobsDeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_queue_jobs_dead_lettered_total",
			Help: "Jobs that exhausted their attempts by queue and job name.",
		}, []string{"queue", "job"}),
		LedgerMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_ledger_mutations_total",
			Help: "Ledger mutations by kind and result.",
		}, []string{"kind", "result"}),
	}
}

// NewNop returns metrics on a throwaway registry. Used in tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
