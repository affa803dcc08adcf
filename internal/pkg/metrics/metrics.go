// Package metrics registers the Prometheus instrumentation for the
// dispatch pipeline. One Metrics value is shared by the worker and the
// HTTP server; /metrics is served by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Dispatch metrics
	JobsProcessed *prometheus.CounterVec // labels: channel, outcome (sent|failed|requeued)
	SendDuration  *prometheus.HistogramVec
	DueJobs       prometheus.Gauge
	JobsReclaimed prometheus.Counter

	// Ingestion metrics
	WebhookEvents *prometheus.CounterVec // labels: provider, record_type

	// Database metrics
	DatabaseOperations *prometheus.CounterVec // labels: operation, status
}

// New creates and registers all pipeline metrics under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_jobs_processed_total",
			Help:      "Outbox jobs processed, by channel and outcome",
		}, []string{"channel", "outcome"}),
		SendDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_send_duration_seconds",
			Help:      "Time spent in provider send calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"provider"}),
		DueJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_due_jobs",
			Help:      "Queued jobs currently due for dispatch",
		}),
		JobsReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_jobs_reclaimed_total",
			Help:      "Stale processing jobs requeued by the reclaimer",
		}),
		WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Delivery webhook events received, by provider and record type",
		}, []string{"provider", "record_type"}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Database operations, by operation and status",
		}, []string{"operation", "status"}),
	}
}

// Nop returns a Metrics backed by unregistered collectors, for tests and
// tools that never scrape.
func Nop() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)
	return &Metrics{
		JobsProcessed: fac.NewCounterVec(prometheus.CounterOpts{Name: "outbox_jobs_processed_total"}, []string{"channel", "outcome"}),
		SendDuration:  fac.NewHistogramVec(prometheus.HistogramOpts{Name: "outbox_send_duration_seconds"}, []string{"provider"}),
		DueJobs:       fac.NewGauge(prometheus.GaugeOpts{Name: "outbox_due_jobs"}),
		JobsReclaimed: fac.NewCounter(prometheus.CounterOpts{Name: "outbox_jobs_reclaimed_total"}),
		WebhookEvents: fac.NewCounterVec(prometheus.CounterOpts{Name: "webhook_events_total"}, []string{"provider", "record_type"}),
		DatabaseOperations: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "database_operations_total"}, []string{"operation", "status"}),
	}
}
