package eventing

import (
	"context"
	"sync"
	"time"

	"autovolt-cloud/internal/observability/metrics"
)

// Dispatcher sends outbox events to the in-process bus.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		outbox:   outbox,
		registry: registry,
		dlq:      dlq,
		inFlight: make(map[string]struct{}),
	}
}

// Dispatch pulls pending outbox messages and delivers them. A record
// whose delivery is still running higher up the stack is skipped, so a
// handler that publishes (and so dispatches) mid-delivery cannot
// re-enter its own event.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	records, err := d.outbox.ListPending(ctx, limit+d.inFlightCount())
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return err
	}

	delivered := 0
	sent, failed, dead := 0, 0, 0
	for _, record := range records {
		if delivered >= limit {
			break
		}
		if !d.claim(record.ID) {
			continue
		}
		delivered++

		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			_ = d.outbox.MarkFailed(ctx, record.ID)
			if d.dlq != nil {
				if dlqErr := d.dlq.RecordFailure(ctx, env, err); dlqErr == nil {
					dead++
				}
			}
			failed++
			d.release(record.ID)
			continue
		}

		ctxWithEnv := WithEnvelope(ctx, env)
		if err := d.bus.Publish(ctxWithEnv, payload); err != nil {
			_ = d.outbox.MarkFailed(ctx, record.ID)
			if d.dlq != nil {
				if dlqErr := d.dlq.RecordFailure(ctx, env, err); dlqErr == nil {
					dead++
				}
			}
			failed++
			d.release(record.ID)
			continue
		}

		_ = d.outbox.MarkSent(ctx, record.ID)
		sent++
		d.release(record.ID)
	}

	result := metrics.ResultSuccess
	if failed > 0 {
		result = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(result, time.Since(start), sent, failed, dead)
	return nil
}

func (d *Dispatcher) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

func (d *Dispatcher) inFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
