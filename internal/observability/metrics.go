// Package observability exports the counters and histograms the gateway
// records at well-defined moments (tool-call start/end, sandbox execution,
// authentication attempts, active-session count) for an external scraper
// to consume. The metric identifiers in this file are part of the
// gateway's public interface: renaming one is a breaking change.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns every metric the gateway emits. It is constructed once at
// startup and passed by reference to the components that call its
// recording methods; there is no package-level global registry, so tests
// can construct an isolated Recorder per test.
type Recorder struct {
	registry *prometheus.Registry

	toolCallsTotal    *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec
	sandboxExecutions *prometheus.CounterVec
	sandboxDuration   *prometheus.HistogramVec
	authAttemptsTotal *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// New constructs a Recorder backed by a fresh, isolated registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		toolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_tool_calls_total",
			Help: "Total number of MCP tool calls, by tool name and outcome status.",
		}, []string{"tool", "status"}),

		toolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_gateway_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls in seconds, by tool name and outcome status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool", "status"}),

		sandboxExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_sandbox_executions_total",
			Help: "Total number of sandbox executions, by backend and outcome.",
		}, []string{"backend", "outcome"}),

		sandboxDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_gateway_sandbox_execution_duration_seconds",
			Help:    "Duration of sandbox executions in seconds, by backend.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"backend"}),

		authAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_auth_attempts_total",
			Help: "Total number of authentication attempts, by outcome.",
		}, []string{"outcome"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_gateway_active_sessions",
			Help: "Current number of non-revoked, unexpired sessions.",
		}),
	}
}

// Handler exposes the registry's metrics in the Prometheus exposition
// format for an external scraper to pull.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordToolCall is invoked on every tool-call start/end with its outcome
// status ("ok", "error") and total duration.
func (r *Recorder) RecordToolCall(tool, status string, duration time.Duration) {
	r.toolCallsTotal.WithLabelValues(tool, status).Inc()
	r.toolCallDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// RecordSandboxExecution satisfies sandbox.MetricsRecorder: it is invoked
// once per sandbox execution with the backend name ("generic", "hardened")
// and a terminal outcome ("ok", "timeout", "error").
func (r *Recorder) RecordSandboxExecution(backend string, duration time.Duration, outcome string) {
	r.sandboxExecutions.WithLabelValues(backend, outcome).Inc()
	r.sandboxDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordAuthAttempt is invoked on every authentication attempt (bearer
// validation, token exchange) with an outcome label such as "success",
// "invalid_token", "expired", "audience_mismatch".
func (r *Recorder) RecordAuthAttempt(outcome string) {
	r.authAttemptsTotal.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the current active-session gauge. Callers
// typically invoke this from the authstore sweeper, after each sweep.
func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}
