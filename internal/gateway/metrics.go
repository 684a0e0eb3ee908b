package gateway

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler serves /metrics in Prometheus text format, the way
// cmd/pulse/metrics_server.go mounts promhttp.Handler() on its own mux.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// Metrics holds the gateway's Prometheus instrumentation, following the
// singleton pattern of internal/ai/chat/metrics.go's AIMetrics (package
// namespace, CounterVec/HistogramVec per concern, prometheus.MustRegister
// once at construction).
type Metrics struct {
	capsuleBuilds   *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	upstreamLatency *prometheus.HistogramVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton gateway metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	m := &Metrics{
		capsuleBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "capsulegate",
				Subsystem: "capsule",
				Name:      "builds_total",
				Help:      "Total capsule builds by cache outcome",
			},
			[]string{"cache"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "capsulegate",
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Run duration by executor (local or browser) and outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"executor", "outcome"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "capsulegate",
				Subsystem: "mcp_upstream",
				Name:      "call_latency_seconds",
				Help:      "MCP upstream call latency by upstream name and method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mcp", "method"},
		),
	}

	prometheus.MustRegister(m.capsuleBuilds, m.runDuration, m.upstreamLatency)
	return m
}

// RecordCapsuleBuild records whether a build hit the content-address cache.
func (m *Metrics) RecordCapsuleBuild(cacheHit bool) {
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.capsuleBuilds.WithLabelValues(label).Inc()
}

// RecordRunDuration records how long a run took and how it ended.
func (m *Metrics) RecordRunDuration(executor, outcome string, seconds float64) {
	m.runDuration.WithLabelValues(executor, outcome).Observe(seconds)
}

// RecordUpstreamLatency records one MCP upstream call's latency.
func (m *Metrics) RecordUpstreamLatency(mcpName, method string, seconds float64) {
	m.upstreamLatency.WithLabelValues(mcpName, method).Observe(seconds)
}
