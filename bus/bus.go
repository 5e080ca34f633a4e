// Package bus distributes and persists nighthawk runtime events. Generated
// code never talks to it directly: an Environment publishes every event to
// an EventBus, and subscribers store, forward or trace them.
package bus

import "github.com/petal-labs/nighthawk/runtime"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all
	// runs, optionally restricted to the given kinds.
	SubscribeAll(kinds ...runtime.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan runtime.Event

	// Close unsubscribes and releases resources.
	Close() error
}

// Pump feeds every event of sub to handler on a new goroutine until the
// subscription closes. The returned channel closes when it stops.
func Pump(sub Subscription, handler runtime.EventHandler) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.Events() {
			handler(e)
		}
	}()
	return done
}
