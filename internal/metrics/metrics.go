// Package metrics exposes the Prometheus collectors the executor and
// cmd/server update as flows run, plus the /metrics handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the collectors updated during node and process execution.
// A nil *Recorder is valid everywhere it's used here; every method is a
// no-op in that case so tests and CLI runs don't need to wire Prometheus.
type Recorder struct {
	nodeExecutions  *prometheus.CounterVec
	nodeDuration    *prometheus.HistogramVec
	processRuns     *prometheus.CounterVec
	activeTriggers  prometheus.Gauge
}

// NewRecorder registers and returns the standard collector set against reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer for production.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowforge_node_executions_total",
			Help: "Count of node executions by node type and terminal status.",
		}, []string{"node_type", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowforge_node_duration_seconds",
			Help:    "Node execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
		processRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowforge_process_runs_total",
			Help: "Count of process runs by terminal status.",
		}, []string{"status"}),
		activeTriggers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowforge_active_triggers",
			Help: "Number of triggers currently started.",
		}),
	}
}

// ObserveNode records a node's terminal status and wall-clock duration.
func (r *Recorder) ObserveNode(nodeType, status string, seconds float64) {
	if r == nil {
		return
	}
	r.nodeExecutions.WithLabelValues(nodeType, status).Inc()
	r.nodeDuration.WithLabelValues(nodeType).Observe(seconds)
}

// ObserveProcess records a process run's terminal status.
func (r *Recorder) ObserveProcess(status string) {
	if r == nil {
		return
	}
	r.processRuns.WithLabelValues(status).Inc()
}

// SetActiveTriggers sets the current count of started triggers.
func (r *Recorder) SetActiveTriggers(n int) {
	if r == nil {
		return
	}
	r.activeTriggers.Set(float64(n))
}

// Handler returns the HTTP handler that serves the registry's metrics in the
// Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
