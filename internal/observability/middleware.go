package observability

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aide/internal/engine"
	"aide/internal/events"
)

// Middleware feeds run events into the prometheus collectors and wraps each
// run in a tracer span. It sits in the engine's middleware chain and never
// mutates or drops events.
type Middleware struct {
	metrics *Metrics
	tracer  *TracerProvider

	mu    sync.Mutex
	spans map[string]trace.Span // keyed by session id
}

func NewMiddleware(metrics *Metrics, tracer *TracerProvider) *Middleware {
	return &Middleware{
		metrics: metrics,
		tracer:  tracer,
		spans:   make(map[string]trace.Span),
	}
}

func (m *Middleware) OnRunStart(ctx context.Context, req *engine.Request) {
	m.metrics.ActiveRuns.Inc()
	if m.tracer == nil {
		return
	}
	_, span := m.tracer.StartSpan(ctx, SpanRun, req.SessionID)
	m.mu.Lock()
	m.spans[req.SessionID] = span
	m.mu.Unlock()
}

func (m *Middleware) OnEvent(_ context.Context, _ *engine.Request, ev events.Event) (events.Event, bool) {
	switch ev.Type {
	case events.TypeLLMEnd:
		m.metrics.LLMRequests.WithLabelValues(ev.Node, ev.Model).Inc()
		m.metrics.LLMLatency.WithLabelValues(ev.Node).
			Observe(float64(ev.DurationMs) / 1000)
		if ev.InputTokens > 0 {
			m.metrics.LLMInputTokens.WithLabelValues(ev.Model).Add(float64(ev.InputTokens))
		}
		if ev.OutputTokens > 0 {
			m.metrics.LLMOutputTokens.WithLabelValues(ev.Model).Add(float64(ev.OutputTokens))
		}
	case events.TypeToolEnd:
		m.metrics.ToolExecutions.WithLabelValues(ev.Tool, strconv.FormatBool(ev.Cached)).Inc()
		m.metrics.ToolDuration.WithLabelValues(ev.Tool).
			Observe(float64(ev.DurationMs) / 1000)
		if ev.Cached {
			m.metrics.CacheHits.WithLabelValues("tool").Inc()
		}
	}
	return ev, true
}

func (m *Middleware) OnRunEnd(_ context.Context, req *engine.Request, runErr error) {
	m.metrics.ActiveRuns.Dec()
	status := "ok"
	if runErr != nil {
		status = "error"
	}
	m.metrics.RunsTotal.WithLabelValues(status).Inc()

	m.mu.Lock()
	span, ok := m.spans[req.SessionID]
	delete(m.spans, req.SessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		span.SetAttributes(attribute.Bool(AttrError, true))
	}
	span.End()
}
