// Package otel provides OpenTelemetry integration for nighthawk runtime events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/nighthawk/runtime"
)

// Attribute keys shared by spans and metrics.
const (
	AttrRunID      = "nighthawk.run.id"
	AttrScopeID    = "nighthawk.scope.id"
	AttrStepID     = "nighthawk.step.id"
	AttrToolCallID = "nighthawk.tool_call.id"
	AttrToolName   = "nighthawk.tool.name"
	AttrKind       = "nighthawk.step.kind"
)

// TracingHandler translates runtime events into OpenTelemetry spans: one
// root span per run, a child span per step and a grandchild span per tool
// call. Model turns become span events on the step span.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	stepSpans map[string]trace.Span      // runID:stepID -> span
	stepCtxs  map[string]context.Context // runID:stepID -> context
	toolSpans map[string]trace.Span      // runID:toolCallID -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from runtime events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
		stepCtxs:  make(map[string]context.Context),
		toolSpans: make(map[string]trace.Span),
	}
}

// Handle processes a runtime event and creates or ends spans accordingly.
// It implements runtime.EventHandler semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventStepStarted:
		h.handleStepStarted(e)
	case runtime.EventStepFinished:
		h.endStep(e, "")
	case runtime.EventStepFailed:
		h.endStep(e, payloadString(e, "error", "unknown error"))
	case runtime.EventModelTurn:
		h.handleModelTurn(e)
	case runtime.EventToolCall:
		h.handleToolCall(e)
	case runtime.EventToolResult:
		h.handleToolResult(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	ctx, span := h.tracer.Start(context.Background(), "nighthawk.run",
		trace.WithAttributes(
			attribute.String(AttrRunID, e.RunID),
			attribute.String(AttrScopeID, e.ScopeID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleStepStarted creates a child span under the run span.
func (h *TracingHandler) handleStepStarted(e runtime.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	name := "step"
	if e.Function != "" {
		name = "step:" + e.Function
	}
	ctx, span := h.tracer.Start(parentCtx, name,
		trace.WithAttributes(
			attribute.String(AttrRunID, e.RunID),
			attribute.String(AttrScopeID, e.ScopeID),
			attribute.String(AttrStepID, e.StepID),
			attribute.String("code.function", e.Function),
			attribute.String("code.filepath", e.File),
			attribute.Int("code.lineno", e.Line),
		),
		trace.WithTimestamp(e.Time),
	)

	key := e.RunID + ":" + e.StepID
	h.mu.Lock()
	h.stepSpans[key] = span
	h.stepCtxs[key] = ctx
	h.mu.Unlock()
}

// endStep ends the step span, with error status when errMsg is set.
func (h *TracingHandler) endStep(e runtime.Event, errMsg string) {
	key := e.RunID + ":" + e.StepID

	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
		delete(h.stepCtxs, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	span.SetAttributes(attribute.String("nighthawk.duration", e.Elapsed.String()))
	if kind := payloadString(e, "kind", ""); kind != "" {
		span.SetAttributes(attribute.String(AttrKind, kind))
	}
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleModelTurn(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.stepSpans[e.RunID+":"+e.StepID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("nighthawk.event_kind", string(e.Kind))}
	for _, key := range []string{"turn", "tool_calls", "input_tokens", "output_tokens"} {
		if n, ok := payloadInt(e, key); ok {
			attrs = append(attrs, attribute.Int("nighthawk."+key, n))
		}
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleToolCall opens a span for one tool call under its step span.
func (h *TracingHandler) handleToolCall(e runtime.Event) {
	callID := payloadString(e, "tool_call_id", "")
	if callID == "" {
		return
	}

	h.mu.RLock()
	parentCtx, ok := h.stepCtxs[e.RunID+":"+e.StepID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	toolName := payloadString(e, "tool", "")
	_, span := h.tracer.Start(parentCtx, "tool:"+toolName,
		trace.WithAttributes(
			attribute.String(AttrRunID, e.RunID),
			attribute.String(AttrStepID, e.StepID),
			attribute.String(AttrToolCallID, callID),
			attribute.String(AttrToolName, toolName),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.toolSpans[e.RunID+":"+callID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleToolResult(e runtime.Event) {
	key := e.RunID + ":" + payloadString(e, "tool_call_id", "")

	h.mu.Lock()
	span, ok := h.toolSpans[key]
	if ok {
		delete(h.toolSpans, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	status := payloadString(e, "status", "")
	span.SetAttributes(attribute.String("nighthawk.tool.status", status))
	if status == "failure" {
		span.SetStatus(codes.Error, payloadString(e, "error_kind", "tool failure"))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// handleRunFinished ends the root run span.
func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if errMsg := payloadString(e, "error", ""); errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext for the active step span
// identified by runID and stepID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(runID, stepID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stepSpans[runID+":"+stepID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func payloadString(e runtime.Event, key, fallback string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return fallback
}

func payloadInt(e runtime.Event, key string) (int, bool) {
	switch v := e.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
