package bus

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/nighthawk/runtime"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
}

func newTestStore(t *testing.T) *SQLiteEventStore {
	t.Helper()
	store, err := NewSQLiteEventStore(testDSN(t))
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteEventStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	e := runtime.NewEvent(runtime.EventStepFinished, "run-1").
		WithScope("scope-1").
		WithStep("step-1", "calc.Compute", "calc.go", 14).
		WithElapsed(3*time.Millisecond).
		WithPayload("kind", "pass").
		WithPayload("nested", map[string]any{"outputs": []any{"result"}})
	e.Seq = 7
	e.Time = now
	e.TraceID = "trace-abc"
	e.SpanID = "span-def"
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.List(ctx, Query{RunID: "run-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.Kind != runtime.EventStepFinished || got.Seq != 7 || got.ScopeID != "scope-1" {
		t.Errorf("header = %+v", got)
	}
	if got.StepID != "step-1" || got.Function != "calc.Compute" || got.File != "calc.go" || got.Line != 14 {
		t.Errorf("location = %s %s %s:%d", got.StepID, got.Function, got.File, got.Line)
	}
	if got.Elapsed != 3*time.Millisecond || !got.Time.Equal(now) {
		t.Errorf("timing = %v %v", got.Elapsed, got.Time)
	}
	if got.TraceID != "trace-abc" || got.SpanID != "span-def" {
		t.Errorf("trace = %s/%s", got.TraceID, got.SpanID)
	}
	if got.Payload["kind"] != "pass" {
		t.Errorf("payload kind = %v", got.Payload["kind"])
	}
	nested, ok := got.Payload["nested"].(map[string]any)
	if !ok || fmt.Sprint(nested["outputs"]) != "[result]" {
		t.Errorf("payload nested = %#v", got.Payload["nested"])
	}
}

func TestSQLiteEventStore_NilPayload(t *testing.T) {
	store := newTestStore(t)
	e := makeEvent("run-1", 1, runtime.EventRunStarted)
	e.Payload = nil
	appendAll(t, store, e)

	events, _ := store.List(context.Background(), Query{RunID: "run-1"})
	if len(events) != 1 || events[0].Payload == nil {
		t.Fatalf("events = %+v", events)
	}
}

func TestSQLiteEventStore_EmptyDSN(t *testing.T) {
	if _, err := NewSQLiteEventStore("  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestSQLiteEventStore_PersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")

	store, err := NewSQLiteEventStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	appendAll(t, store,
		makeEvent("run-1", 1, runtime.EventRunStarted),
		makeEvent("run-1", 2, runtime.EventStepStarted),
	)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteEventStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	latest, err := reopened.LatestSeq(context.Background(), "run-1")
	if err != nil || latest != 2 {
		t.Fatalf("LatestSeq after reopen = %d, %v", latest, err)
	}
}

func TestSQLiteEventStore_ConcurrentReadWrite(t *testing.T) {
	store, err := NewSQLiteEventStore(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(seq uint64) {
			defer wg.Done()
			if err := store.Append(ctx, makeEvent("run-1", seq, runtime.EventToolResult)); err != nil {
				errs <- err
			}
		}(uint64(i))
		go func() {
			defer wg.Done()
			if _, err := store.List(ctx, Query{RunID: "run-1"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access: %v", err)
	}

	latest, _ := store.LatestSeq(ctx, "run-1")
	if latest != 50 {
		t.Errorf("LatestSeq = %d, want 50", latest)
	}
}
