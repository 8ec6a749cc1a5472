// Package metrics exposes the calculation engine's Prometheus
// collectors on a dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the calculation engine's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	calculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calcengine",
			Subsystem: "engine",
			Name:      "calculations_total",
			Help:      "Total number of calculations handled, by calculator id and outcome.",
		},
		[]string{"calculator_id", "status"},
	)

	calculationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calcengine",
			Subsystem: "engine",
			Name:      "calculation_duration_seconds",
			Help:      "Duration of a Calculate/CalculateImmediate call, end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"calculator_id"},
	)

	cacheHitRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "calcengine",
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Current result cache hit ratio (hits / requests).",
		},
	)

	poolActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "calcengine",
			Subsystem: "pool",
			Name:      "active_workers",
			Help:      "Current number of workers tracked by the pool.",
		},
	)

	poolWorkerReplacements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calcengine",
			Subsystem: "pool",
			Name:      "worker_replacements_total",
			Help:      "Total number of workers replaced after exceeding the error threshold.",
		},
	)
)

func init() {
	Registry.MustRegister(
		calculationsTotal,
		calculationDuration,
		cacheHitRatio,
		poolActiveWorkers,
		poolWorkerReplacements,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCalculation records a completed calculation's duration and outcome.
func RecordCalculation(calcID, status string, duration time.Duration) {
	if calcID == "" {
		calcID = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	calculationsTotal.WithLabelValues(calcID, status).Inc()
	calculationDuration.WithLabelValues(calcID).Observe(duration.Seconds())
}

// SetCacheHitRatio reports the cache's current hit ratio.
func SetCacheHitRatio(ratio float64) {
	cacheHitRatio.Set(ratio)
}

// SetActiveWorkers reports the pool's current worker count.
func SetActiveWorkers(n int) {
	poolActiveWorkers.Set(float64(n))
}

// RecordWorkerReplacement counts one worker replaced for exceeding the
// error threshold.
func RecordWorkerReplacement() {
	poolWorkerReplacements.Inc()
}
