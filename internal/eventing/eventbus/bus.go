package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// EventHandler processes one delivered event.
type EventHandler func(ctx context.Context, event any) error

// EventBus fans events out to handlers keyed by concrete type name.
// The ledger and analytics consumers subscribe by the names returned
// from EventTypeOf; delivery is synchronous, in subscription order.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventbus: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventbus: invalid event type")

// InMemoryBus is the in-process bus behind the outbox dispatcher.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]EventHandler
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]EventHandler)}
}

// Publish delivers the event to every handler subscribed to its type.
// The first handler error is returned after all handlers have run, so
// one failing consumer never starves the others.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	name := EventType(event)
	if name == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := make([]EventHandler, len(b.subs[name]))
	copy(handlers, b.subs[name])
	b.mu.RUnlock()

	var delivery error
	for _, deliver := range handlers {
		if err := deliver(ctx, event); err != nil && delivery == nil {
			delivery = err
		}
	}
	return delivery
}

// Subscribe adds a handler for an event type. Empty types and nil
// handlers are ignored.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], handler)
	b.mu.Unlock()
}

// EventType names an event instance by its dereferenced concrete type.
func EventType(event any) string {
	t := reflect.TypeOf(event)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf names an event type at compile time, for subscriptions.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
