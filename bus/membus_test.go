package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/nighthawk/runtime"
)

func receive(t *testing.T, sub Subscription) runtime.Event {
	t.Helper()
	select {
	case e := <-sub.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return runtime.Event{}
}

// drain counts events until the subscription stays quiet for 50ms.
func drain(sub Subscription) int {
	count := 0
	for {
		select {
		case <-sub.Events():
			count++
		case <-time.After(50 * time.Millisecond):
			return count
		}
	}
}

func TestMemBus_PublishSubscribe(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	b.Publish(runtime.NewEvent(runtime.EventStepStarted, "run-1").WithStep("step-1", "pkg.F", "f.go", 3))

	got := receive(t, sub)
	if got.Kind != runtime.EventStepStarted || got.RunID != "run-1" || got.StepID != "step-1" {
		t.Fatalf("got %+v", got)
	}
}

func TestMemBus_FanOutAndRunIsolation(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub1 := b.Subscribe("run-1")
	sub2 := b.Subscribe("run-1")
	other := b.Subscribe("run-2")

	b.Publish(runtime.NewEvent(runtime.EventStepFinished, "run-1"))

	for i, sub := range []Subscription{sub1, sub2} {
		if e := receive(t, sub); e.Kind != runtime.EventStepFinished {
			t.Errorf("sub%d: got kind %v", i, e.Kind)
		}
	}
	if n := drain(other); n != 0 {
		t.Errorf("run-2 subscriber received %d events", n)
	}
}

func TestMemBus_SubscribeAllWithKindFilter(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	all := b.SubscribeAll()
	steps := b.SubscribeAll(runtime.EventStepStarted, runtime.EventStepFinished)

	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
	b.Publish(runtime.NewEvent(runtime.EventStepStarted, "run-1"))
	b.Publish(runtime.NewEvent(runtime.EventModelTurn, "run-2"))
	b.Publish(runtime.NewEvent(runtime.EventStepFinished, "run-2"))

	if n := drain(all); n != 4 {
		t.Errorf("global subscriber received %d events, want 4", n)
	}
	if n := drain(steps); n != 2 {
		t.Errorf("filtered subscriber received %d events, want 2", n)
	}
}

func TestMemBus_Close(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	sub := b.Subscribe("run-1")

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after bus close")
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("double close error = %v", err)
	}

	// Publishing and subscribing after close must not panic.
	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
	late := b.SubscribeAll()
	if _, ok := <-late.Events(); ok {
		t.Fatal("expected a closed subscription from a closed bus")
	}
}

func TestMemBus_BufferOverflowDrops(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 2})
	defer b.Close()

	sub := b.Subscribe("run-1")
	for i := 0; i < 5; i++ {
		b.Publish(runtime.NewEvent(runtime.EventModelTurn, "run-1"))
	}
	if n := drain(sub); n != 2 {
		t.Errorf("received %d events, want 2 (buffer size)", n)
	}
}

func TestMemBus_DefaultBufferSize(t *testing.T) {
	if b := NewMemBus(MemBusConfig{}); b.bufSize != 256 {
		t.Errorf("buffer size = %d, want 256", b.bufSize)
	}
}

func TestMemBus_ConcurrentPublish(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 1000})
	defer b.Close()

	sub := b.Subscribe("run-1")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(runtime.NewEvent(runtime.EventToolCall, "run-1"))
		}()
	}
	wg.Wait()

	if got := drain(sub); got != n {
		t.Errorf("received %d events, want %d", got, n)
	}
}

func TestPump(t *testing.T) {
	b := NewMemBus(MemBusConfig{})

	var (
		mu   sync.Mutex
		seen []runtime.EventKind
	)
	done := Pump(b.SubscribeAll(), func(e runtime.Event) {
		mu.Lock()
		seen = append(seen, e.Kind)
		mu.Unlock()
	})

	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "r"))
	b.Publish(runtime.NewEvent(runtime.EventRunFinished, "r"))
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after bus close")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != runtime.EventRunStarted || seen[1] != runtime.EventRunFinished {
		t.Fatalf("seen = %v", seen)
	}
}
