package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/petal-labs/nighthawk/runtime"
)

// natsPublisher is the part of *nats.Conn the forwarder uses.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// wireEvent is the JSON form of an event on NATS.
type wireEvent struct {
	Kind     string         `json:"kind"`
	RunID    string         `json:"run_id"`
	ScopeID  string         `json:"scope_id,omitempty"`
	StepID   string         `json:"step_id,omitempty"`
	Function string         `json:"function,omitempty"`
	File     string         `json:"file,omitempty"`
	Line     int            `json:"line,omitempty"`
	Time     time.Time      `json:"time"`
	Elapsed  int64          `json:"elapsed_ns,omitempty"`
	Seq      uint64         `json:"seq"`
	TraceID  string         `json:"trace_id,omitempty"`
	SpanID   string         `json:"span_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// NATSForwarder publishes events as JSON to "<subject>.<kind>", for example
// nighthawk.events.step.finished.
type NATSForwarder struct {
	conn    *nats.Conn
	pub     natsPublisher
	subject string
	logger  *slog.Logger
}

// NewNATSForwarder connects to url and forwards to subject.
func NewNATSForwarder(url, subject string, logger *slog.Logger) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.Name("nighthawk"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	f := newNATSForwarder(conn, subject, logger)
	f.conn = conn
	return f, nil
}

func newNATSForwarder(pub natsPublisher, subject string, logger *slog.Logger) *NATSForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSForwarder{
		pub:     pub,
		subject: strings.TrimSuffix(subject, "."),
		logger:  logger,
	}
}

// Handle publishes one event. It has runtime.EventHandler semantics.
func (f *NATSForwarder) Handle(e runtime.Event) {
	data, err := json.Marshal(wireEvent{
		Kind:     string(e.Kind),
		RunID:    e.RunID,
		ScopeID:  e.ScopeID,
		StepID:   e.StepID,
		Function: e.Function,
		File:     e.File,
		Line:     e.Line,
		Time:     e.Time,
		Elapsed:  int64(e.Elapsed),
		Seq:      e.Seq,
		TraceID:  e.TraceID,
		SpanID:   e.SpanID,
		Payload:  e.Payload,
	})
	if err != nil {
		f.logger.Error("failed to encode event for nats", "run_id", e.RunID, "kind", e.Kind, "error", err)
		return
	}
	subject := f.subject + "." + string(e.Kind)
	if err := f.pub.Publish(subject, data); err != nil {
		f.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (f *NATSForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
