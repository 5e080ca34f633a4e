package bus

import (
	"context"
	"slices"
	"time"

	"github.com/petal-labs/nighthawk/runtime"
)

// Query selects events of one run.
type Query struct {
	RunID string
	// StepID restricts the result to one step when set.
	StepID string
	// Kinds restricts the result to the given kinds when set.
	Kinds []runtime.EventKind
	// AfterSeq returns events with Seq > AfterSeq (0 means all).
	AfterSeq uint64
	// Limit caps the number of events (0 means no limit).
	Limit int
}

func (q Query) matches(e runtime.Event) bool {
	if e.RunID != q.RunID {
		return false
	}
	if q.AfterSeq > 0 && e.Seq <= q.AfterSeq {
		return false
	}
	if q.StepID != "" && e.StepID != q.StepID {
		return false
	}
	return len(q.Kinds) == 0 || slices.Contains(q.Kinds, e.Kind)
}

// RunSummary aggregates the stored events of one run.
type RunSummary struct {
	RunID    string
	Started  time.Time
	Last     time.Time
	Events   int
	Steps    int
	Failures int
}

// EventStore persists events for inspection and replay.
type EventStore interface {
	// Append stores an event. (RunID, Seq) is unique.
	Append(ctx context.Context, event runtime.Event) error

	// List returns the events selected by q in Seq order.
	List(ctx context.Context, q Query) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)

	// Runs summarises stored runs, most recently started first. limit <= 0
	// means all runs.
	Runs(ctx context.Context, limit int) ([]RunSummary, error)

	// PruneBefore deletes events older than cutoff and reports how many
	// were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
