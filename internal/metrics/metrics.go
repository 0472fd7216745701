// Package metrics exposes Prometheus collectors for pipeline passes and the
// query API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adradar"

var (
	// Observations processed by ingest, partitioned by outcome
	// (inserted, updated, rejected, failed).
	Observations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Scrape observations processed by ingest",
		},
		[]string{"outcome"},
	)

	// Gate rejections by rule.
	GateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Observations rejected by the validity gate",
		},
		[]string{"reason"},
	)

	// Lifecycle state changes by target state and detection method.
	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Creative active/inactive transitions",
		},
		[]string{"to", "method"},
	)

	// Fields filled by the enrichment post-pass.
	EnrichmentFills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_fills_total",
			Help:      "Missing attributes filled by the sharing post-pass",
		},
		[]string{"attribute"},
	)

	// Traffic estimator lookups by status and source (cache or api).
	TrafficLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traffic_lookups_total",
			Help:      "Traffic estimator lookups",
		},
		[]string{"status", "source"},
	)

	// Pass wall time by pass name.
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of batch passes",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"pass"},
	)

	// Creatives currently stored.
	Creatives = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "creatives",
			Help:      "Creatives in the repository after the last pass",
		},
	)

	// HTTP requests partitioned by method, route and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the query API",
		},
		[]string{"method", "route", "status"},
	)

	// HTTP request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObservePass records the duration of a named pass started at start.
func ObservePass(pass string, start time.Time) {
	PassDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
}
