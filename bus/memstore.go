package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petal-labs/nighthawk/runtime"
)

// MemEventStore is a thread-safe in-memory event store.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]runtime.Event // runID -> events in append order
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{
		events: make(map[string][]runtime.Event),
	}
}

func (s *MemEventStore) Append(_ context.Context, event runtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events[event.RunID] {
		if e.Seq == event.Seq {
			return fmt.Errorf("memstore: duplicate event %s/%d", event.RunID, event.Seq)
		}
	}
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

func (s *MemEventStore) List(_ context.Context, q Query) ([]runtime.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []runtime.Event
	for _, e := range s.events[q.RunID] {
		if q.matches(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, runID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events[runID] {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

func (s *MemEventStore) Runs(_ context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunSummary, 0, len(s.events))
	for runID, events := range s.events {
		if len(events) == 0 {
			continue
		}
		runs = append(runs, summarize(runID, events))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.After(runs[j].Started)
		}
		return runs[i].RunID < runs[j].RunID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemEventStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for runID, events := range s.events {
		kept := events[:0]
		for _, e := range events {
			if e.Time.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.events, runID)
		} else {
			s.events[runID] = kept
		}
	}
	return removed, nil
}

func summarize(runID string, events []runtime.Event) RunSummary {
	sum := RunSummary{RunID: runID, Events: len(events)}
	for i, e := range events {
		if i == 0 || e.Time.Before(sum.Started) {
			sum.Started = e.Time
		}
		if e.Time.After(sum.Last) {
			sum.Last = e.Time
		}
		switch e.Kind {
		case runtime.EventStepStarted:
			sum.Steps++
		case runtime.EventStepFailed:
			sum.Failures++
		}
	}
	return sum
}

var _ EventStore = (*MemEventStore)(nil)
