package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors. Each process builds one
// instance over its own registry so tests never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	LLMRequests     *prometheus.CounterVec
	LLMLatency      *prometheus.HistogramVec
	LLMInputTokens  *prometheus.CounterVec
	LLMOutputTokens *prometheus.CounterVec
	ToolExecutions  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	ActiveRuns      prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_runs_total",
			Help: "Engine runs by outcome.",
		}, []string{"status"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_llm_requests_total",
			Help: "LLM calls by node and model.",
		}, []string{"node", "model"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aide_llm_latency_seconds",
			Help:    "LLM call latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"node"}),
		LLMInputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_llm_input_tokens_total",
			Help: "Input tokens sent to the model.",
		}, []string{"model"}),
		LLMOutputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_llm_output_tokens_total",
			Help: "Output tokens returned by the model.",
		}, []string{"model"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_tool_executions_total",
			Help: "Tool invocations by tool and cache outcome.",
		}, []string{"tool", "cached"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aide_tool_duration_seconds",
			Help:    "Tool execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"tool"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_cache_hits_total",
			Help: "Cache hits by facade.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aide_cache_misses_total",
			Help: "Cache misses by facade.",
		}, []string{"cache"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aide_active_runs",
			Help: "Runs currently in flight.",
		}),
	}
	reg.MustRegister(
		m.RunsTotal, m.LLMRequests, m.LLMLatency,
		m.LLMInputTokens, m.LLMOutputTokens,
		m.ToolExecutions, m.ToolDuration,
		m.CacheHits, m.CacheMisses, m.ActiveRuns,
	)
	return m
}

// Handler serves the /metrics scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the raw registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
