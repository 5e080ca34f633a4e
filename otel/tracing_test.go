package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	nhotel "github.com/petal-labs/nighthawk/otel"
	"github.com/petal-labs/nighthawk/runtime"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func spanAttr(s tracetest.SpanStub, key string) (string, bool) {
	for _, attr := range s.Attributes {
		if string(attr.Key) == key {
			return attr.Value.Emit(), true
		}
	}
	return "", false
}

func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found among %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

// stepRun emits one run with a single step that makes one tool call.
func stepRun(h *nhotel.TracingHandler, stepFailed bool) {
	now := time.Now()
	base := runtime.Event{RunID: "run-1", ScopeID: "scope-1", Time: now}

	ev := base
	ev.Kind = runtime.EventRunStarted
	h.Handle(ev)

	ev = base
	ev.Kind = runtime.EventStepStarted
	ev.StepID = "step-1"
	ev.Function = "pkg.Compute"
	ev.File = "calc.go"
	ev.Line = 12
	h.Handle(ev)

	ev.Kind = runtime.EventModelTurn
	ev.Payload = map[string]any{"turn": 1, "tool_calls": 1, "input_tokens": 120, "output_tokens": 30}
	h.Handle(ev)

	ev.Kind = runtime.EventToolCall
	ev.Payload = map[string]any{"tool_call_id": "call-1", "tool": "nh_assign"}
	h.Handle(ev)

	ev.Kind = runtime.EventToolResult
	ev.Payload = map[string]any{"tool_call_id": "call-1", "tool": "nh_assign", "status": "failure", "error_kind": "resolution"}
	h.Handle(ev)

	ev.Time = now.Add(50 * time.Millisecond)
	ev.Elapsed = 50 * time.Millisecond
	if stepFailed {
		ev.Kind = runtime.EventStepFailed
		ev.Payload = map[string]any{"error": "boom", "kind": "raise"}
	} else {
		ev.Kind = runtime.EventStepFinished
		ev.Payload = map[string]any{"kind": "pass"}
	}
	h.Handle(ev)

	ev = base
	ev.Kind = runtime.EventRunFinished
	ev.Time = now.Add(60 * time.Millisecond)
	if stepFailed {
		ev.Payload = map[string]any{"error": "boom"}
	}
	h.Handle(ev)
}

func TestTracingHandler_SpanHierarchy(t *testing.T) {
	exporter, tp := newTestTracer()
	h := nhotel.NewTracingHandler(tp.Tracer("test"))

	stepRun(h, false)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	run := findSpan(t, spans, "nighthawk.run")
	step := findSpan(t, spans, "step:pkg.Compute")
	call := findSpan(t, spans, "tool:nh_assign")

	if step.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("step span is not a child of the run span")
	}
	if call.Parent.SpanID() != step.SpanContext.SpanID() {
		t.Error("tool span is not a child of the step span")
	}
	if step.SpanContext.TraceID() != run.SpanContext.TraceID() {
		t.Error("step span has a different trace id")
	}

	for key, want := range map[string]string{
		nhotel.AttrRunID:   "run-1",
		nhotel.AttrScopeID: "scope-1",
		nhotel.AttrStepID:  "step-1",
		"code.function":    "pkg.Compute",
		"code.filepath":    "calc.go",
		"code.lineno":      "12",
		nhotel.AttrKind:    "pass",
	} {
		if got, _ := spanAttr(step, key); got != want {
			t.Errorf("step attribute %s = %q, want %q", key, got, want)
		}
	}
	if step.Status.Code != otelcodes.Ok {
		t.Errorf("step status = %v, want Ok", step.Status.Code)
	}
	if len(step.Events) != 1 || step.Events[0].Name != string(runtime.EventModelTurn) {
		t.Fatalf("step events = %+v", step.Events)
	}

	if got, _ := spanAttr(call, nhotel.AttrToolCallID); got != "call-1" {
		t.Errorf("tool_call.id = %q", got)
	}
	if call.Status.Code != otelcodes.Error || call.Status.Description != "resolution" {
		t.Errorf("tool status = %+v", call.Status)
	}
}

func TestTracingHandler_StepFailed(t *testing.T) {
	exporter, tp := newTestTracer()
	h := nhotel.NewTracingHandler(tp.Tracer("test"))

	stepRun(h, true)

	spans := exporter.GetSpans()
	step := findSpan(t, spans, "step:pkg.Compute")
	if step.Status.Code != otelcodes.Error || step.Status.Description != "boom" {
		t.Fatalf("step status = %+v", step.Status)
	}
	recorded := false
	for _, e := range step.Events {
		if e.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("expected an exception event on the failed step")
	}
	run := findSpan(t, spans, "nighthawk.run")
	if run.Status.Code != otelcodes.Error {
		t.Errorf("run status = %+v", run.Status)
	}
}

func TestTracingHandler_UnknownSpansAreIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := nhotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(runtime.Event{Kind: runtime.EventStepFinished, RunID: "missing", StepID: "x", Time: time.Now()})
	h.Handle(runtime.Event{Kind: runtime.EventToolResult, RunID: "missing", Payload: map[string]any{"tool_call_id": "c"}})
	h.Handle(runtime.Event{Kind: runtime.EventToolCall, RunID: "missing", StepID: "x", Payload: map[string]any{"tool_call_id": "c"}})
	h.Handle(runtime.Event{Kind: runtime.EventRunFinished, RunID: "missing"})

	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("expected no spans, got %d", n)
	}
	if h.ActiveSpanContext("missing", "x").IsValid() || h.ActiveRunSpanContext("missing").IsValid() {
		t.Fatal("expected empty span contexts")
	}
}

func TestTracingHandler_StepWithoutRunStartsRootSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := nhotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(runtime.Event{Kind: runtime.EventStepStarted, RunID: "r", StepID: "s", Time: now})
	if !h.ActiveSpanContext("r", "s").IsValid() {
		t.Fatal("expected an active step span")
	}
	h.Handle(runtime.Event{Kind: runtime.EventStepFinished, RunID: "r", StepID: "s", Time: now})

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "step" {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].Parent.IsValid() {
		t.Error("expected a root span")
	}
}
