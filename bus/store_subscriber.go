package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/petal-labs/nighthawk/runtime"
)

// appendTimeout bounds one store write so a stuck database cannot stall
// the subscriber.
const appendTimeout = 5 * time.Second

// StoreSubscriber writes events to an EventStore. Its Handle method has
// runtime.EventHandler semantics, so it can be attached to a bus with Pump
// or passed directly to runtime.WithEventHandler.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store. Failures are logged and
// never reach the step that emitted the event.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := s.store.Append(ctx, event); err != nil {
		s.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"step_id", event.StepID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}
