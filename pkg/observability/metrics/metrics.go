package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stt",
		Subsystem: "collect",
		Name:      "submissions_total",
		Help:      "Submissions received, by source and final status.",
	}, []string{"source", "status"})

	changesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stt",
		Subsystem: "collect",
		Name:      "changes_created_total",
		Help:      "Change records created, by form type.",
	}, []string{"form_type"})

	processingSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stt",
		Subsystem: "collect",
		Name:      "processing_seconds",
		Help:      "Time to transform and persist one submission.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"form_type"})

	retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stt",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Reprocessing attempts of unresolved submissions, by outcome.",
	}, []string{"outcome"})

	aggregateRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stt",
		Subsystem: "aggregate",
		Name:      "requests_total",
		Help:      "Requests proxied to ODK Aggregate, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		submissionsTotal,
		changesCreated,
		processingSeconds,
		retryAttempts,
		aggregateRequests,
	)
}

func ObserveSubmission(source, status string) {
	submissionsTotal.WithLabelValues(source, status).Inc()
}

func ObserveChanges(formType string, n int) {
	changesCreated.WithLabelValues(formType).Add(float64(n))
}

func ObserveProcessing(formType string, d time.Duration) {
	processingSeconds.WithLabelValues(formType).Observe(d.Seconds())
}

func ObserveRetry(outcome string) {
	retryAttempts.WithLabelValues(outcome).Inc()
}

func ObserveAggregate(endpoint, outcome string) {
	aggregateRequests.WithLabelValues(endpoint, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Gatherer exposes the registry to tests.
func Gatherer() prometheus.Gatherer {
	return registry
}
