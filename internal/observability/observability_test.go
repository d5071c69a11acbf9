package observability

import (
	"context"
	"testing"

	"aide/internal/config"
	"aide/internal/engine"
	"aide/internal/events"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	_, span := tp.StartSpan(context.Background(), SpanRun, "s1")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestUnsupportedExporterRejected(t *testing.T) {
	_, err := NewTracerProvider(config.TracingConfig{Enabled: true, Exporter: "jaeger"})
	if err == nil {
		t.Fatal("unknown exporter must error")
	}
}

func TestMiddlewareCountsRuns(t *testing.T) {
	metrics := NewMetrics()
	tp, _ := NewTracerProvider(config.TracingConfig{})
	mw := NewMiddleware(metrics, tp)

	ctx := context.Background()
	req := &engine.Request{SessionID: "s1"}
	mw.OnRunStart(ctx, req)
	mw.OnEvent(ctx, req, events.Event{
		Type: events.TypeLLMEnd, Node: "agent", Model: "gpt-4o",
		DurationMs: 120, InputTokens: 10, OutputTokens: 5,
	})
	mw.OnEvent(ctx, req, events.Event{
		Type: events.TypeToolEnd, Tool: "fetch_url", Cached: true, DurationMs: 3,
	})
	mw.OnRunEnd(ctx, req, nil)

	families, err := metrics.Gather().Gather()
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	for _, name := range []string{
		"aide_runs_total",
		"aide_llm_requests_total",
		"aide_tool_executions_total",
		"aide_cache_hits_total",
	} {
		if !byName[name] {
			t.Fatalf("metric %s not collected", name)
		}
	}
}

func TestMiddlewareNeverDropsEvents(t *testing.T) {
	mw := NewMiddleware(NewMetrics(), nil)
	req := &engine.Request{SessionID: "s1"}
	ev, ok := mw.OnEvent(context.Background(), req, events.Token("x"))
	if !ok || ev.Content != "x" {
		t.Fatalf("event = %+v, ok = %v", ev, ok)
	}
}
