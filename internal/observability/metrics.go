package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors used across the core.
//
// Registration happens once at startup via NewMetrics; collectors are
// registered with the default registry and served at /metrics.
type Metrics struct {
	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// CacheReads counts cache lookups by kind and outcome.
	// Labels: kind, outcome (hit|miss)
	CacheReads *prometheus.CounterVec

	// LLMRequests counts LLM stream openings.
	// Labels: model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMDuration measures full LLM stream duration in seconds.
	// Labels: model
	LLMDuration *prometheus.HistogramVec

	// ActiveSessions tracks the current session count.
	ActiveSessions prometheus.Gauge

	// HTTPRequests counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors. Call once.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandintel_tool_executions_total",
				Help: "Total tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brandintel_tool_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		CacheReads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandintel_cache_reads_total",
				Help: "Cache lookups by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		LLMRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandintel_llm_requests_total",
				Help: "LLM stream requests by model and status",
			},
			[]string{"model", "status"},
		),
		LLMDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brandintel_llm_request_duration_seconds",
				Help:    "Duration of LLM streams in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "brandintel_active_sessions",
				Help: "Current number of stored sessions",
			},
		),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandintel_http_requests_total",
				Help: "HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
