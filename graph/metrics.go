package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records engine execution metrics onto a caller-supplied
// registry, exposed by internal/obs on GET /metrics. Labels stay at node
// granularity; run IDs are unbounded and belong in events, not label sets.
type PrometheusMetrics struct {
	runsInFlight prometheus.Gauge
	stepLatency  *prometheus.HistogramVec
	retries      *prometheus.CounterVec
}

// NewPrometheusMetrics registers the engine's metric family on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "runs_in_flight",
			Help:      "Number of workflow runs currently executing.",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "retries_total",
			Help:      "Node retry attempts.",
		}, []string{"node_id"}),
	}
}

// RecordStepLatency records one node execution attempt's duration and
// outcome ("success" or "error").
func (m *PrometheusMetrics) RecordStepLatency(nodeID string, d time.Duration, status string) {
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

// RecordRetry counts one retry attempt for a node.
func (m *PrometheusMetrics) RecordRetry(nodeID string) {
	m.retries.WithLabelValues(nodeID).Inc()
}

func (m *PrometheusMetrics) runStarted()  { m.runsInFlight.Inc() }
func (m *PrometheusMetrics) runFinished() { m.runsInFlight.Dec() }
