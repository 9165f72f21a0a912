package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inbound events by kind and the route the dispatcher chose
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiobot_events_total",
			Help: "Total number of inbound channel events",
		},
		[]string{"kind", "route"},
	)

	// Dialogue state machine
	flowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiobot_flow_transitions_total",
			Help: "Total number of dialogue steps by state and outcome",
		},
		[]string{"state", "outcome"},
	)

	// Pipeline
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiobot_pipeline_runs_total",
			Help: "Total number of pipeline runs by status",
		},
		[]string{"status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardiobot_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"stage"},
	)

	budgetWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardiobot_budget_wait_seconds",
			Help:    "Time spent waiting for pipeline throughput budget",
			Buckets: prometheus.DefBuckets,
		},
	)

	// External adapters
	adapterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardiobot_adapter_calls_total",
			Help: "Total number of external adapter calls",
		},
		[]string{"adapter", "status"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardiobot_active_sessions",
			Help: "Number of sessions held by the session store",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default Prometheus registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			eventsTotal,
			flowTransitionsTotal,
			pipelineRunsTotal,
			stageDuration,
			budgetWait,
			adapterCallsTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent counts one inbound event.
func RecordEvent(kind, route string) {
	eventsTotal.WithLabelValues(kind, route).Inc()
}

// RecordFlowTransition counts one dialogue step.
func RecordFlowTransition(state, outcome string) {
	flowTransitionsTotal.WithLabelValues(state, outcome).Inc()
}

// RecordPipelineRun counts a finished pipeline run.
func RecordPipelineRun(status string) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
}

// RecordStage records the duration of one pipeline stage.
func RecordStage(stage string, duration time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordBudgetWait records how long a stage waited for throughput budget.
func RecordBudgetWait(d time.Duration) {
	budgetWait.Observe(d.Seconds())
}

// RecordAdapterCall counts one adapter call.
func RecordAdapterCall(adapter, status string) {
	adapterCallsTotal.WithLabelValues(adapter, status).Inc()
}

// SetActiveSessions sets the active sessions gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
