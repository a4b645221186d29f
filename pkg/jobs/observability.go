package jobs

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"queue", "job_type", "delayed"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_jobs_processed_total",
			Help: "Total number of job attempts processed by workers",
		},
		[]string{"queue", "job_type", "outcome"},
	)

	jobsRetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_jobs_retry_total",
			Help: "Total number of job retries scheduled by workers",
		},
		[]string{"queue", "job_type"},
	)

	jobsMalformedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_jobs_malformed_total",
			Help: "Total number of undecodable queue entries discarded on pop",
		},
		[]string{"queue"},
	)

	storeFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_store_fallback_total",
			Help: "Total number of store operations served by the in-process fallback after a durable store failure",
		},
		[]string{"operation"},
	)

	jobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobqueue_jobs_inflight",
			Help: "Current number of jobs being processed by workers",
		},
		[]string{"queue"},
	)
)

// Collectors returns the queue metrics for registration with a Prometheus registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		jobsEnqueuedTotal,
		jobsProcessedTotal,
		jobsRetryTotal,
		jobsMalformedTotal,
		storeFallbackTotal,
		jobsInFlight,
	}
}

func recordJobEnqueued(queue, jobType string, delayed bool) {
	label := "false"
	if delayed {
		label = "true"
	}
	jobsEnqueuedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobType, "unknown"),
		label,
	).Inc()
}

func recordJobProcessed(queue, jobType string, outcome Outcome) {
	jobsProcessedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobType, "unknown"),
		normalizeMetricLabel(string(outcome), "unknown"),
	).Inc()
}

func recordJobRetry(queue, jobType string) {
	jobsRetryTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobType, "unknown"),
	).Inc()
}

func recordJobMalformed(queue string) {
	jobsMalformedTotal.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func recordStoreFallback(operation string) {
	storeFallbackTotal.WithLabelValues(normalizeMetricLabel(operation, "unknown")).Inc()
}

func incrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func decrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Dec()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
