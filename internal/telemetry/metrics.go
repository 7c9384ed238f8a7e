package telemetry

import (
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds counters/histograms named for the agent loop, tool
// executor and orchestrator. NewMetrics builds them; no package in this
// module records to them.
type Metrics struct {
	Iterations     metric.Int64Counter
	ToolCalls      metric.Int64Counter
	ToolFailures   metric.Int64Counter
	Delegations    metric.Int64Counter
	LLMChatLatency metric.Float64Histogram
}

// NewMetrics registers a Prometheus exporter as an OTel metric reader and
// builds the instrument set read by HTTP /metrics scraping. Returns the
// reader's MeterProvider so the embedder can wire a /metrics handler via
// promhttp against the exporter's registry.
func NewMetrics() (*Metrics, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter(ScopeName)

	iterations, err := meter.Int64Counter("fractal_node_iterations_total")
	if err != nil {
		return nil, nil, err
	}
	toolCalls, err := meter.Int64Counter("fractal_tool_calls_total")
	if err != nil {
		return nil, nil, err
	}
	toolFailures, err := meter.Int64Counter("fractal_tool_failures_total")
	if err != nil {
		return nil, nil, err
	}
	delegations, err := meter.Int64Counter("fractal_delegations_total")
	if err != nil {
		return nil, nil, err
	}
	llmLatency, err := meter.Float64Histogram("fractal_llm_chat_latency_seconds")
	if err != nil {
		return nil, nil, err
	}

	return &Metrics{
		Iterations:     iterations,
		ToolCalls:      toolCalls,
		ToolFailures:   toolFailures,
		Delegations:    delegations,
		LLMChatLatency: llmLatency,
	}, mp, nil
}
