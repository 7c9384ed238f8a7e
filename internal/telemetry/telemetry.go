// Package telemetry wires the agent loop, tool executor, and orchestrator
// into OpenTelemetry tracing: one span per ReAct iteration, per LLM call,
// per tool execution, and per delegation, plus traceparent propagation
// onto outgoing CloudEvents.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ScopeName = "fractal.agent"

	SpanIteration  = "fractal.node.iteration"
	SpanLLMChat    = "fractal.llm.chat"
	SpanToolExec   = "fractal.tool.execute"
	SpanDelegation = "fractal.orchestrator.delegate"

	AttrAgentID   = "fractal.agent_id"
	AttrTaskID    = "fractal.task_id"
	AttrIteration = "fractal.iteration"
	AttrToolName  = "fractal.tool_name"
	AttrDepth     = "fractal.depth"
	AttrStatus    = "fractal.status"
)

// Exporter selects which tracing backend Setup configures. Prometheus is
// handled separately via metrics.go since it exports counters, not spans.
type Exporter string

const (
	ExporterNone           Exporter = ""
	ExporterOTLPHTTP       Exporter = "otlphttp"
	ExporterJaeger         Exporter = "jaeger"
	ExporterZipkin         Exporter = "zipkin"
)

// Config selects the tracing backend and service identity.
type Config struct {
	Exporter    Exporter
	Endpoint    string
	ServiceName string
}

// Setup installs a global TracerProvider per cfg.Exporter and returns a
// shutdown func to flush pending spans on exit. ExporterNone (or an empty
// Endpoint) yields a no-op provider.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg.Exporter == ExporterNone || cfg.Endpoint == "" {
		return noop, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return noop, fmt.Errorf("telemetry: building %s exporter: %w", cfg.Exporter, err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fractal"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLPHTTP:
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	case ExporterJaeger:
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case ExporterZipkin:
		return zipkin.New(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// StartIteration opens a span for one ReAct loop iteration.
func StartIteration(ctx context.Context, agentID, taskID string, iteration int) (context.Context, trace.Span) {
	return start(ctx, SpanIteration, attribute.String(AttrAgentID, agentID), attribute.String(AttrTaskID, taskID), attribute.Int(AttrIteration, iteration))
}

// StartLLMChat opens a span around one LLM chat call.
func StartLLMChat(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return start(ctx, SpanLLMChat, attribute.String(AttrAgentID, agentID))
}

// StartToolExec opens a span around one tool invocation.
func StartToolExec(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return start(ctx, SpanToolExec, attribute.String(AttrToolName, toolName))
}

// StartDelegation opens a span around one orchestrator delegation.
func StartDelegation(ctx context.Context, parentAgentID string, depth int) (context.Context, trace.Span) {
	return start(ctx, SpanDelegation, attribute.String(AttrAgentID, parentAgentID), attribute.Int(AttrDepth, depth))
}

func start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ScopeName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err (if any) onto span and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrStatus, "error"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(AttrStatus, "success"))
	}
	span.End()
}

// TraceParent renders the active span context in this ctx as a W3C
// traceparent header value, for embedding onto outgoing CloudEvents. It
// returns "" when ctx carries no valid span.
func TraceParent(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	flags := "00"
	if sc.IsSampled() {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", sc.TraceID().String(), sc.SpanID().String(), flags)
}
