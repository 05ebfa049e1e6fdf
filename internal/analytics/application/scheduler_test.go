package application

import (
	"context"
	"log"
	"testing"
	"time"
)

type fakeClassrooms struct{ rooms []string }

func (f fakeClassrooms) Classrooms(_ context.Context) ([]string, error) {
	return f.rooms, nil
}

func newSchedulerFixture(t *testing.T) (*Scheduler, *Tracker, *aggregatorFixture) {
	t.Helper()
	fx := newAggregatorFixture(t)
	tracker := NewTracker()
	logger := log.New(testWriter{t}, "", 0)
	scheduler, err := NewScheduler(fx.aggregator, tracker, fakeClassrooms{rooms: []string{"7A"}}, time.Minute, "00:30", logger)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return scheduler, tracker, fx
}

func TestSweep_AggregatesDirtyDaysAndMonth(t *testing.T) {
	scheduler, tracker, fx := newSchedulerFixture(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	seedEntry(t, fx.entries, "e-1", start, start.Add(time.Hour), 40, true)
	tracker.Mark("7A", "2024-03-05")

	scheduler.Sweep(ctx)

	rows, err := fx.dailies.ListByClassroomDate(ctx, "7A", "2024-03-05")
	if err != nil || len(rows) != 1 {
		t.Fatalf("daily rows=%d err=%v", len(rows), err)
	}
	monthlies, err := fx.monthlies.ListByClassroomMonth(ctx, "7A", "2024-03")
	if err != nil || len(monthlies) != 1 {
		t.Fatalf("monthly rows=%d err=%v", len(monthlies), err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("dirty set not drained: %d", tracker.Len())
	}
}

func TestSweep_AlwaysCoversToday(t *testing.T) {
	scheduler, _, fx := newSchedulerFixture(t)
	ctx := context.Background()

	// An entry for "today" relative to the fixture clock (2024-03-10).
	start := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	seedEntry(t, fx.entries, "e-today", start, start.Add(time.Hour), 25, true)

	// Nothing marked dirty: the sweep still refreshes today's rows.
	scheduler.Sweep(ctx)

	rows, err := fx.dailies.ListByClassroomDate(ctx, "7A", "2024-03-10")
	if err != nil || len(rows) != 1 {
		t.Fatalf("daily rows=%d err=%v", len(rows), err)
	}
}

func TestNightly_FinalizesYesterday(t *testing.T) {
	scheduler, _, fx := newSchedulerFixture(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)
	seedEntry(t, fx.entries, "e-y", start, start.Add(time.Hour), 40, true)

	localNow := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)
	scheduler.Nightly(ctx, localNow)

	rows, err := fx.dailies.ListByClassroomDate(ctx, "7A", "2024-03-09")
	if err != nil || len(rows) != 1 {
		t.Fatalf("daily rows=%d err=%v", len(rows), err)
	}
	monthlies, err := fx.monthlies.ListByClassroomMonth(ctx, "7A", "2024-03")
	if err != nil || len(monthlies) != 1 {
		t.Fatalf("monthly rows=%d err=%v", len(monthlies), err)
	}
}

func TestShouldRunNightly_MatchesConfiguredMinute(t *testing.T) {
	scheduler, _, _ := newSchedulerFixture(t)

	at := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)
	if !scheduler.shouldRunNightly(at) {
		t.Fatal("expected nightly at 00:30")
	}
	if scheduler.shouldRunNightly(at.Add(time.Minute)) {
		t.Fatal("nightly fired off schedule")
	}
}
