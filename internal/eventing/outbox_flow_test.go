package eventing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"autovolt-cloud/internal/eventing/eventbus"
)

type memOutboxRecord struct {
	id       string
	env      Envelope
	status   string
	attempts int
}

// memOutbox mirrors the store semantics: records stay pending until
// marked, and failed records are not redelivered without a requeue.
type memOutbox struct {
	mu      sync.Mutex
	seq     int
	records []*memOutboxRecord
}

func (m *memOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("out-%d", m.seq)
	m.records = append(m.records, &memOutboxRecord{id: id, env: env, status: "pending"})
	return id, nil
}

func (m *memOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxRecord
	for _, rec := range m.records {
		if rec.status != "pending" {
			continue
		}
		out = append(out, OutboxRecord{ID: rec.id, Envelope: rec.env})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.id == id {
			rec.status = "sent"
		}
	}
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.id == id {
			rec.status = "failed"
			rec.attempts++
		}
	}
	return nil
}

func (m *memOutbox) statusOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.id == id {
			return rec.status
		}
	}
	return ""
}

func (m *memOutbox) attemptsOf(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.id == id {
			return rec.attempts
		}
	}
	return 0
}

func (m *memOutbox) firstID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return ""
	}
	return m.records[0].id
}

func (m *memOutbox) requeue(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.id == id {
			rec.status = "pending"
		}
	}
}

type memProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemProcessed() *memProcessed {
	return &memProcessed{seen: make(map[string]bool)}
}

func (m *memProcessed) HasProcessed(_ context.Context, eventID, consumer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID+"|"+consumer], nil
}

func (m *memProcessed) MarkProcessed(_ context.Context, eventID, consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID+"|"+consumer] = true
	return nil
}

type memDLQ struct {
	mu       sync.Mutex
	failures []Envelope
}

func (m *memDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, env)
	return nil
}

func (m *memDLQ) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failures)
}

type switchFlipped struct {
	DeviceID   string    `json:"device_id"`
	Classroom  string    `json:"classroom"`
	OccurredAt time.Time `json:"occurred_at"`
}

type flowFixture struct {
	bus        *eventbus.InMemoryBus
	registry   *Registry
	outbox     *memOutbox
	processed  *memProcessed
	dlq        *memDLQ
	dispatcher *Dispatcher
	publisher  *Publisher
}

func newFlowFixture() *flowFixture {
	bus := eventbus.NewInMemoryBus()
	registry := NewRegistry()
	registry.Register(switchFlipped{})
	outbox := &memOutbox{}
	dlq := &memDLQ{}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq)
	return &flowFixture{
		bus:        bus,
		registry:   registry,
		outbox:     outbox,
		processed:  newMemProcessed(),
		dlq:        dlq,
		dispatcher: dispatcher,
		publisher:  NewPublisher(outbox, dispatcher, bus),
	}
}

func TestPublishDeliversViaOutbox(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	var got []switchFlipped
	var envs []Envelope
	handler := func(ctx context.Context, event any) error {
		flipped, ok := event.(switchFlipped)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}
		got = append(got, flipped)
		if env, ok := EnvelopeFromContext(ctx); ok {
			envs = append(envs, env)
		}
		return nil
	}
	Subscribe(fx.bus, eventbus.EventTypeOf[switchFlipped](), "flow.consumer", handler, fx.processed)

	occurred := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	err := fx.publisher.Publish(ctx, switchFlipped{DeviceID: "dev-1", Classroom: "7A", OccurredAt: occurred})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].DeviceID != "dev-1" || got[0].Classroom != "7A" || !got[0].OccurredAt.Equal(occurred) {
		t.Fatalf("event = %+v", got[0])
	}

	if len(envs) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(envs))
	}
	env := envs[0]
	if env.EventType != "eventing.switchFlipped" {
		t.Fatalf("event type = %q", env.EventType)
	}
	if env.EventID == "" || env.CorrelationID == "" {
		t.Fatalf("envelope ids missing: %+v", env)
	}
	// Routing metadata is lifted from the payload fields.
	if env.DeviceID != "dev-1" || env.Classroom != "7A" {
		t.Fatalf("envelope routing = %q %q", env.DeviceID, env.Classroom)
	}
	if !env.OccurredAt.Equal(occurred) {
		t.Fatalf("occurred at = %s", env.OccurredAt)
	}

	if status := fx.outbox.statusOf(fx.outbox.firstID()); status != "sent" {
		t.Fatalf("outbox status = %q", status)
	}
}

func TestRedeliveryIsIdempotentPerConsumer(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	calls := 0
	handler := func(context.Context, any) error {
		calls++
		return nil
	}
	Subscribe(fx.bus, eventbus.EventTypeOf[switchFlipped](), "flow.consumer", handler, fx.processed)

	if err := fx.publisher.Publish(ctx, switchFlipped{DeviceID: "dev-1", Classroom: "7A"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// Force a redelivery of the already-sent record.
	id := fx.outbox.firstID()
	fx.outbox.requeue(id)

	if err := fx.dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("redelivery reached handler: calls = %d", calls)
	}
	if status := fx.outbox.statusOf(id); status != "sent" {
		t.Fatalf("outbox status = %q", status)
	}
}

func TestFailingHandlerLandsInDLQ(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	fail := true
	calls := 0
	handler := func(context.Context, any) error {
		calls++
		if fail {
			return errors.New("downstream unavailable")
		}
		return nil
	}
	Subscribe(fx.bus, eventbus.EventTypeOf[switchFlipped](), "flow.consumer", handler, fx.processed)

	if err := fx.publisher.Publish(ctx, switchFlipped{DeviceID: "dev-1", Classroom: "7A"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	id := fx.outbox.firstID()
	if status := fx.outbox.statusOf(id); status != "failed" {
		t.Fatalf("outbox status = %q, want failed", status)
	}
	if fx.outbox.attemptsOf(id) != 1 {
		t.Fatalf("attempts = %d", fx.outbox.attemptsOf(id))
	}
	if fx.dlq.count() != 1 {
		t.Fatalf("dlq failures = %d", fx.dlq.count())
	}

	// A failed handler must not be marked processed, or the retry
	// would be swallowed by the dedupe.
	fail = false
	fx.outbox.requeue(id)
	if err := fx.dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if status := fx.outbox.statusOf(id); status != "sent" {
		t.Fatalf("outbox status after retry = %q", status)
	}
}

type entryClosed struct {
	DeviceID string `json:"device_id"`
}

// A handler that publishes a follow-up event triggers a dispatch while
// its own record is still pending. The nested dispatch must deliver the
// new event, not re-enter the one in flight.
func TestPublishFromHandlerDeliversFollowUpOnly(t *testing.T) {
	fx := newFlowFixture()
	fx.registry.Register(entryClosed{})
	ctx := context.Background()

	// The handler holds its own lock across the publish, like the
	// ledger generator does around interval state; re-entry would
	// deadlock here.
	var mu sync.Mutex
	flippedCalls := 0
	closedCalls := 0

	flippedHandler := func(ctx context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()
		flippedCalls++
		return fx.publisher.Publish(ctx, entryClosed{DeviceID: "dev-1"})
	}
	closedHandler := func(context.Context, any) error {
		closedCalls++
		return nil
	}
	Subscribe(fx.bus, eventbus.EventTypeOf[switchFlipped](), "flow.flipped", flippedHandler, fx.processed)
	Subscribe(fx.bus, eventbus.EventTypeOf[entryClosed](), "flow.closed", closedHandler, fx.processed)

	if err := fx.publisher.Publish(ctx, switchFlipped{DeviceID: "dev-1", Classroom: "7A"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if flippedCalls != 1 {
		t.Fatalf("flipped calls = %d, want 1", flippedCalls)
	}
	if closedCalls != 1 {
		t.Fatalf("closed calls = %d, want 1", closedCalls)
	}
	for _, rec := range fx.outbox.records {
		if rec.status != "sent" {
			t.Fatalf("record %s status = %q", rec.id, rec.status)
		}
	}
	if fx.dlq.count() != 0 {
		t.Fatalf("dlq failures = %d", fx.dlq.count())
	}
}

func TestUnknownEventTypeLandsInDLQ(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	type unregistered struct {
		Name string `json:"name"`
	}
	env, err := BuildEnvelope(unregistered{Name: "x"}, Meta{})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	id, err := fx.outbox.Insert(ctx, env)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := fx.dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if status := fx.outbox.statusOf(id); status != "failed" {
		t.Fatalf("outbox status = %q", status)
	}
	if fx.dlq.count() != 1 {
		t.Fatalf("dlq failures = %d", fx.dlq.count())
	}
}
