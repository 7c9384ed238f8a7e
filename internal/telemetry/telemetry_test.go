package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupNoopWhenExporterUnset(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestStartIterationEmitsSpanWithAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	ctx, span := StartIteration(context.Background(), "agent-a", "task-1", 2)
	End(span, nil)
	_ = ctx

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanIteration, spans[0].Name())
}

func TestTraceParentEmptyWithoutActiveSpan(t *testing.T) {
	assert.Equal(t, "", TraceParent(context.Background()))
}

func TestTraceParentRendersActiveSpanContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	ctx, span := StartIteration(context.Background(), "agent-a", "task-1", 1)
	defer span.End()

	tp2 := TraceParent(ctx)
	assert.NotEmpty(t, tp2)
	assert.Equal(t, "00-", tp2[:3])
}
