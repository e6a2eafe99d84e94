// Package cdcmetrics exposes the Prometheus metrics surface for the CDC-aware
// commit-log allocator, grounded on the counter/gauge registration pattern used
// by buildbarn-bb-storage's block allocators: a handful of named collectors
// bundled into one struct and registered against a caller-supplied registry.
package cdcmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors a running allocator updates. Passing a nil
// Registerer to New is useful in tests, where registering against the global
// default registry across many short-lived instances would panic on the
// second registration of the same metric name.
type Metrics struct {
	SizeBytes      prometheus.Gauge
	WritesRejected *prometheus.CounterVec
	RecalcDuration prometheus.Histogram
	RecalcDropped  prometheus.Counter
}

// New builds the metrics bundle and, if reg is non-nil, registers it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cdc",
			Name:      "size_bytes",
			Help:      "Best-effort current CDC bytes counted toward the budget.",
		}),
		WritesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdc",
			Name:      "writes_rejected_total",
			Help:      "Number of CDC-tracked writes rejected for being over the CDC budget.",
		}, []string{"keyspace"}),
		RecalcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdc",
			Name:      "recalc_duration_seconds",
			Help:      "Duration of CDC-raw directory size recalculation walks.",
			Buckets:   prometheus.DefBuckets,
		}),
		RecalcDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdc",
			Name:      "recalc_dropped_total",
			Help:      "Number of recalc submissions dropped because one was already in flight.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.SizeBytes, m.WritesRejected, m.RecalcDuration, m.RecalcDropped)
	}

	return m
}
