package eventing

import (
	"context"

	"autovolt-cloud/internal/eventing/eventbus"
)

// ProcessedStore answers whether a consumer already handled an event
// and records the handled mark.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe registers the handler on the bus, wrapped with per-consumer
// idempotency when a processed store is given. With a nil store the
// handler sees every delivery, including outbox redeliveries.
func Subscribe(bus eventbus.EventBus, eventType, consumerName string, handler eventbus.EventHandler, store ProcessedStore) {
	if store != nil {
		handler = WrapHandler(consumerName, handler, store)
	}
	bus.Subscribe(eventType, handler)
}

// WrapHandler makes redelivery a no-op per consumer: the handler runs
// once per event id, and the mark is written only after it succeeds, so
// a failed attempt is retried on the next delivery. Events arriving
// without an envelope (direct bus publishes in tests) skip the check.
func WrapHandler(consumerName string, handler eventbus.EventHandler, store ProcessedStore) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}
