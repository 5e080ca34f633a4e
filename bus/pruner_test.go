package bus

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/nighthawk/runtime"
)

func TestNewPruner_Validation(t *testing.T) {
	store := NewMemEventStore()
	tests := []struct {
		name      string
		retention time.Duration
		schedule  string
		wantErr   bool
	}{
		{"default schedule", time.Hour, "", false},
		{"descriptor", time.Hour, "@daily", false},
		{"five fields", time.Hour, "*/5 * * * *", false},
		{"bad schedule", time.Hour, "whenever", true},
		{"zero retention", 0, "@hourly", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPruner(store, tt.retention, tt.schedule, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPruner() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPruner_PruneNow(t *testing.T) {
	store := NewMemEventStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := makeEvent("run-1", 1, runtime.EventRunStarted)
	stale.Time = now.Add(-2 * time.Hour)
	fresh := makeEvent("run-1", 2, runtime.EventStepStarted)
	fresh.Time = now.Add(-10 * time.Minute)
	appendAll(t, store, stale, fresh)

	p, err := NewPruner(store, time.Hour, "@hourly", nil)
	if err != nil {
		t.Fatalf("NewPruner: %v", err)
	}
	p.now = func() time.Time { return now }

	removed, err := p.PruneNow(context.Background())
	if err != nil || removed != 1 {
		t.Fatalf("PruneNow() = %d, %v; want 1", removed, err)
	}
	events, _ := store.List(context.Background(), Query{RunID: "run-1"})
	if len(events) != 1 || events[0].Seq != 2 {
		t.Fatalf("remaining = %+v", events)
	}
}

func TestPruner_StartStop(t *testing.T) {
	p, err := NewPruner(NewMemEventStore(), time.Hour, "@every 1h", nil)
	if err != nil {
		t.Fatalf("NewPruner: %v", err)
	}
	p.Start()
	p.Stop()
}
