package eventing

import (
	"context"

	"autovolt-cloud/internal/eventing/eventbus"
)

// OutboxWriter inserts envelopes as pending outbox rows.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers on the underlying bus.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// Publisher is the durable front of the bus: Publish lands the event in
// the outbox first, then nudges the dispatcher for low-latency
// delivery. Rows the nudge misses are drained by the background ticker
// in main, so a dispatch failure here is not an error.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	sub      Subscriber
}

// NewPublisher constructs a publisher over the outbox and dispatcher.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, sub Subscriber) *Publisher {
	return &Publisher{outbox: outbox, dispatch: dispatch, sub: sub}
}

// Publish stores the event durably and triggers one dispatch attempt.
// Envelope meta comes from the context (classroom, correlation and
// event ids) with the event's own fields as fallback.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.dispatch != nil {
		_ = p.dispatch.Dispatch(ctx, 1)
	}
	return nil
}

// Subscribe delegates to the wrapped bus when one is configured.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
