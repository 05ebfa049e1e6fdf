package interfaces

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"autovolt-cloud/internal/analytics/application"
	ledgerevents "autovolt-cloud/internal/ledger/application/events"
)

type recordingCache struct {
	mu     sync.Mutex
	days   []string
	months []string
	fail   bool
}

func (c *recordingCache) GetDaily(context.Context, string, string) ([]byte, error) {
	return nil, application.ErrCacheMiss
}
func (c *recordingCache) SetDaily(context.Context, string, string, []byte) error { return nil }
func (c *recordingCache) GetMonthly(context.Context, string, string) ([]byte, error) {
	return nil, application.ErrCacheMiss
}
func (c *recordingCache) SetMonthly(context.Context, string, string, []byte) error { return nil }

func (c *recordingCache) InvalidateDay(_ context.Context, classroom, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.days = append(c.days, classroom+":"+date)
	return nil
}

func (c *recordingCache) InvalidateMonth(_ context.Context, classroom, month string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.months = append(c.months, classroom+":"+month)
	return nil
}

type consumerWriter struct{ t *testing.T }

func (w consumerWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func recordedEvent() ledgerevents.LedgerEntryRecorded {
	return ledgerevents.LedgerEntryRecorded{
		EventID:    "evt-1",
		EntryID:    "entry-1",
		DeviceID:   "dev-1",
		SwitchID:   "sw1",
		Classroom:  "7A",
		StartTS:    time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC),
		EndTS:      time.Date(2024, 3, 5, 19, 0, 0, 0, time.UTC),
		LocalDates: []string{"2024-03-05", "2024-03-06"},
		OccurredAt: time.Date(2024, 3, 5, 19, 0, 0, 0, time.UTC),
	}
}

func TestHandleLedgerEntryRecorded_MarksDirtyAndInvalidates(t *testing.T) {
	tracker := application.NewTracker()
	cache := &recordingCache{}
	logger := log.New(consumerWriter{t}, "", 0)
	consumer, err := NewLedgerEntryRecordedConsumer(tracker, cache, logger)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	if err := consumer.HandleLedgerEntryRecorded(context.Background(), recordedEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	keys := tracker.Drain()
	if len(keys) != 2 {
		t.Fatalf("dirty days = %d, want 2", len(keys))
	}
	if keys[0].Date != "2024-03-05" || keys[1].Date != "2024-03-06" {
		t.Fatalf("dirty days = %+v", keys)
	}
	if len(cache.days) != 2 || cache.days[0] != "7A:2024-03-05" {
		t.Fatalf("invalidated days = %v", cache.days)
	}
	if len(cache.months) != 2 || cache.months[0] != "7A:2024-03" {
		t.Fatalf("invalidated months = %v", cache.months)
	}
}

func TestHandleLedgerEntryRecorded_PointerEvent(t *testing.T) {
	tracker := application.NewTracker()
	consumer, err := NewLedgerEntryRecordedConsumer(tracker, nil, log.New(consumerWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	evt := recordedEvent()
	if err := consumer.HandleLedgerEntryRecorded(context.Background(), &evt); err != nil {
		t.Fatalf("handle pointer: %v", err)
	}
	if tracker.Len() != 2 {
		t.Fatalf("dirty days = %d, want 2", tracker.Len())
	}
}

func TestHandleLedgerEntryRecorded_CacheFailureIsNotFatal(t *testing.T) {
	tracker := application.NewTracker()
	cache := &recordingCache{fail: true}
	consumer, err := NewLedgerEntryRecordedConsumer(tracker, cache, log.New(consumerWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	if err := consumer.HandleLedgerEntryRecorded(context.Background(), recordedEvent()); err != nil {
		t.Fatalf("cache failure surfaced: %v", err)
	}
	if tracker.Len() != 2 {
		t.Fatalf("dirty days = %d, want 2", tracker.Len())
	}
}

func TestHandleLedgerEntryRecorded_IgnoresOtherEvents(t *testing.T) {
	tracker := application.NewTracker()
	consumer, err := NewLedgerEntryRecordedConsumer(tracker, nil, log.New(consumerWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	if err := consumer.HandleLedgerEntryRecorded(context.Background(), struct{ X int }{1}); err != nil {
		t.Fatalf("foreign event rejected: %v", err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("dirty days = %d, want 0", tracker.Len())
	}
}
