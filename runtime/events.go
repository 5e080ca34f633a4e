// Package runtime executes natural steps on behalf of generated code.
//
// Generated functions call RunStep (or RunStepAsync) once per natural block.
// The runner resolves the block's input bindings, builds a fresh
// core.ExecutionContext, hands it to the environment's step executor and
// reconciles the returned outcome into an Envelope that generated code turns
// back into host control flow.
package runtime

import "time"

// EventKind identifies the type of event emitted by the runtime.
type EventKind string

const (
	// EventRunStarted is emitted when an environment run begins.
	EventRunStarted EventKind = "run.started"

	// EventRunFinished is emitted when a run started with Run completes.
	EventRunFinished EventKind = "run.finished"

	// EventScopeStarted is emitted when WithScope opens a nested scope.
	EventScopeStarted EventKind = "scope.started"

	// EventStepStarted is emitted before a step is dispatched to its executor.
	EventStepStarted EventKind = "step.started"

	// EventStepFinished is emitted when a step outcome has been reconciled.
	EventStepFinished EventKind = "step.finished"

	// EventStepFailed is emitted when a step ends with an error, including
	// a raise outcome.
	EventStepFailed EventKind = "step.failed"

	// EventModelTurn is emitted after each model completion inside a step.
	EventModelTurn EventKind = "model.turn"

	// EventToolCall is emitted when a tool invocation begins.
	EventToolCall EventKind = "tool.call"

	// EventToolResult is emitted when a tool invocation completes.
	EventToolResult EventKind = "tool.result"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened during a run.
// Events should be kept small; payloads carry identifiers and short
// summaries, never rendered prompts.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// ScopeID identifies the environment scope the event belongs to.
	ScopeID string

	// StepID is the execution context id (empty for run and scope events).
	StepID string

	// Function, File and Line locate the step in host source.
	Function string
	File     string
	Line     int

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the step started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithScope sets the scope id on the event.
func (e Event) WithScope(scopeID string) Event {
	e.ScopeID = scopeID
	return e
}

// WithStep sets the step location on the event.
func (e Event) WithStep(stepID, function, file string, line int) Event {
	e.StepID = stepID
	e.Function = function
	e.File = file
	e.Line = line
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
// Executors obtain one from the context to report model and tool activity.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior.
// Typical uses include enriching emitted events (for example with trace metadata).
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the runtime
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// The channel should have sufficient buffer to avoid blocking.
// Events are dropped if the channel is full or closed.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}
