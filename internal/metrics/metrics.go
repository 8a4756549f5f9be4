// Package metrics exposes Prometheus collectors for the batch service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	batchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Total number of batch runs, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	batchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_total",
			Help: "Total number of processed items, labeled by status.",
		},
		[]string{"status"},
	)

	batchRunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_run_duration_seconds",
			Help:    "Histogram of wall-clock batch run durations.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	batchActiveProcessors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_active_processors",
			Help: "Number of processor calls currently in flight.",
		},
	)

	processorDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_processor_duration_seconds",
			Help:    "Histogram of single-item processor latencies, labeled by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"result"},
	)
)

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one completed batch run.
func ObserveRun(overallSuccess bool, succeeded, failed, skipped int, elapsed time.Duration) {
	outcome := "success"
	if !overallSuccess {
		outcome = "partial_failure"
	}
	batchRunsTotal.WithLabelValues(outcome).Inc()
	batchItemsTotal.WithLabelValues("success").Add(float64(succeeded))
	batchItemsTotal.WithLabelValues("failure").Add(float64(failed))
	batchItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	batchRunDurationSeconds.Observe(elapsed.Seconds())
}

// IncActiveProcessors increments the in-flight processor gauge.
func IncActiveProcessors() {
	batchActiveProcessors.Inc()
}

// DecActiveProcessors decrements the in-flight processor gauge.
func DecActiveProcessors() {
	batchActiveProcessors.Dec()
}

// ObserveProcessor records the latency of one processor call.
func ObserveProcessor(success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	processorDurationSeconds.WithLabelValues(result).Observe(elapsed.Seconds())
}
