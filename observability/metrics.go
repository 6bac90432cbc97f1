package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes recorded by ModuleMetrics.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

type moduleMetrics struct {
	transactions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	throttles    *prometheus.CounterVec
	blockHeight  prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised registry tracking protocol
// transactions segmented by module and operation.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "yieldvault",
				Name:      "tx_total",
				Help:      "Total protocol transactions segmented by module, operation and outcome.",
			}, []string{"module", "op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "yieldvault",
				Name:      "tx_duration_seconds",
				Help:      "Latency distribution for protocol transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "op"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "yieldvault",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
			blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "yieldvault",
				Name:      "block_height",
				Help:      "Current height of the protocol block clock.",
			}),
		}
		prometheus.MustRegister(
			moduleRegistry.transactions,
			moduleRegistry.latency,
			moduleRegistry.throttles,
			moduleRegistry.blockHeight,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a protocol transaction.
func (m *moduleMetrics) Observe(module, op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if op == "" {
		op = "unknown"
	}
	m.transactions.WithLabelValues(module, op, outcome).Inc()
	m.latency.WithLabelValues(module, op).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// SetBlockHeight publishes the block clock height.
func (m *moduleMetrics) SetBlockHeight(height uint64) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(height))
}
