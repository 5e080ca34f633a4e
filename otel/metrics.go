package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/nighthawk/runtime"
)

// MetricsHandler translates runtime events into OpenTelemetry metrics:
// step executions, failures and durations, tool calls, model turns and
// token usage, and run durations.
type MetricsHandler struct {
	stepExecutions metric.Int64Counter
	stepFailures   metric.Int64Counter
	stepDuration   metric.Float64Histogram
	toolCalls      metric.Int64Counter
	toolLatency    metric.Float64Histogram
	modelTurns     metric.Int64Counter
	modelTokens    metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	var (
		h   MetricsHandler
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&h.stepExecutions, "nighthawk.step.executions", "Number of completed steps"},
		{&h.stepFailures, "nighthawk.step.failures", "Number of failed steps"},
		{&h.toolCalls, "nighthawk.tool.calls", "Number of tool calls made by the model"},
		{&h.modelTurns, "nighthawk.model.turns", "Number of model completions"},
		{&h.modelTokens, "nighthawk.model.tokens", "Tokens consumed by model completions"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&h.stepDuration, "nighthawk.step.duration", "Duration of step execution in seconds"},
		{&h.toolLatency, "nighthawk.tool.latency", "Tool call latency in seconds"},
		{&h.runDuration, "nighthawk.run.duration", "Duration of a run in seconds"},
	}
	for _, c := range histograms {
		if *c.dst, err = meter.Float64Histogram(c.name, metric.WithDescription(c.desc), metric.WithUnit("s")); err != nil {
			return nil, err
		}
	}
	return &h, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventStepFinished:
		attrs := metric.WithAttributes(
			attribute.String("function", e.Function),
			attribute.String("kind", payloadString(e, "kind", "")),
		)
		h.stepExecutions.Add(ctx, 1, attrs)
		h.stepDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventStepFailed:
		h.stepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("function", e.Function)))
	case runtime.EventToolResult:
		attrs := metric.WithAttributes(
			attribute.String("tool", payloadString(e, "tool", "")),
			attribute.String("status", payloadString(e, "status", "")),
		)
		h.toolCalls.Add(ctx, 1, attrs)
		h.toolLatency.Record(ctx, e.Elapsed.Seconds(), attrs)
	case runtime.EventModelTurn:
		h.modelTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("function", e.Function)))
		if n, ok := payloadInt(e, "input_tokens"); ok && n > 0 {
			h.modelTokens.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", "input")))
		}
		if n, ok := payloadInt(e, "output_tokens"); ok && n > 0 {
			h.modelTokens.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", "output")))
		}
	case runtime.EventRunFinished:
		h.runDuration.Record(ctx, e.Elapsed.Seconds())
	}
}
