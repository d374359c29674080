package cmd

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/purchase-approval/internal/core/events"
)

var domainEventTypes = []string{
	events.EventTypeRequestStateChanged,
	events.EventTypeOrderMatched,
	events.EventTypeReceiptVerified,
}

// newEventBus returns the process event bus with the audit log subscriber
// attached to every domain event.
func newEventBus(logger *slog.Logger) *events.EventBus {
	bus := events.NewEventBus(logger)

	audit := func(ctx context.Context, event events.Event) error {
		logger.InfoContext(ctx, "domain event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"occurred_at", event.OccurredAt(),
			"payload", event.Payload())
		return nil
	}
	for _, eventType := range domainEventTypes {
		bus.Subscribe(eventType, audit)
	}
	return bus
}
