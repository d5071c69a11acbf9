// Package observability wires tracing and metrics into the engine: an otel
// tracer provider (otlp-http or zipkin) and prometheus collectors fed from
// the run's event stream through a middleware.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"aide/internal/config"
)

const serviceName = "aide"

// Span names.
const (
	SpanRun         = "aide.engine.run"
	SpanLLMGenerate = "aide.llm.generate"
	SpanToolExecute = "aide.tool.execute"
)

// Attribute keys.
const (
	AttrSessionID    = "aide.session_id"
	AttrNode         = "aide.node"
	AttrToolName     = "aide.tool_name"
	AttrModel        = "aide.llm.model"
	AttrInputTokens  = "aide.llm.input_tokens"
	AttrOutputTokens = "aide.llm.output_tokens"
	AttrCached       = "aide.cached"
	AttrError        = "aide.error"
)

// TracerProvider wraps the otel tracer with the engine's span vocabulary.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider builds a tracer from config; disabled tracing yields a
// noop tracer so call sites never branch.
func NewTracerProvider(cfg config.TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	ratio := cfg.SamplingRatio
	if ratio <= 0 || ratio > 1.0 {
		ratio = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan opens a span, tagging the session when known.
func (tp *TracerProvider) StartSpan(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
