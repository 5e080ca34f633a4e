package bus

import (
	"slices"
	"sync"

	"github.com/petal-labs/nighthawk/runtime"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses the event.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // runID -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to the subscribers of its run and to every global
// subscriber whose kind filter accepts it. Events published after Close are
// dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.RunID] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Subscribe registers a subscriber for a specific run.
func (b *MemBus) Subscribe(runID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize, nil)
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[runID] = append(b.subs[runID], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events from all runs.
// With kinds, only events of those kinds are delivered.
func (b *MemBus) SubscribeAll(kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize, kinds)
	if b.closed {
		sub.close()
		return sub
	}
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	return nil
}

type memSub struct {
	ch     chan runtime.Event
	kinds  []runtime.EventKind
	mu     sync.Mutex
	closed bool
}

func newMemSub(bufSize int, kinds []runtime.EventKind) *memSub {
	return &memSub{
		ch:    make(chan runtime.Event, bufSize),
		kinds: kinds,
	}
}

func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

func (s *memSub) Close() error {
	s.close()
	return nil
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memSub) send(event runtime.Event) {
	if len(s.kinds) > 0 && !slices.Contains(s.kinds, event.Kind) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Drop if channel full.
	}
}

var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
var _ runtime.EventPublisher = (*MemBus)(nil)
