package application

import (
	"context"
	"log"
	"testing"
	"time"

	devices "autovolt-cloud/internal/devices/domain"
	"autovolt-cloud/internal/devices/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, now time.Time) (*RegistryService, *memory.DeviceRepository) {
	t.Helper()
	repo := memory.NewDeviceRepository().WithNow(func() time.Time { return now })
	svc, err := NewRegistryService(repo, log.Default(),
		WithDefaultRatedPower(40),
		WithHeartbeatWindow(60*time.Second),
		WithClock(fixedClock{now: now}),
	)
	if err != nil {
		t.Fatalf("new registry service: %v", err)
	}
	return svc, repo
}

func TestObserve_AutoRegistersUnknownDevice(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	err := svc.Observe(ctx, Observation{
		DeviceID:    "esp32-01",
		LogicalName: "Lab1 Controller",
		Classroom:   "Lab1",
		SwitchIDs:   []string{"sw1", "sw2"},
		SeenAt:      now,
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}

	device, err := svc.Get(ctx, "esp32-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if device == nil {
		t.Fatal("expected device registered")
	}
	if device.Classroom != "Lab1" {
		t.Fatalf("classroom = %q", device.Classroom)
	}
	if len(device.Switches) != 2 {
		t.Fatalf("switches = %d, want 2", len(device.Switches))
	}
	if device.Switches[0].RatedPowerW != 40 {
		t.Fatalf("rated power = %v, want default 40", device.Switches[0].RatedPowerW)
	}
	if device.LastSeenAt == nil || !device.LastSeenAt.Equal(now) {
		t.Fatalf("last seen = %v, want %v", device.LastSeenAt, now)
	}
}

func TestObserve_DoesNotOverwriteSwitchMetadata(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, repo := newTestService(t, now)
	ctx := context.Background()

	if err := svc.Observe(ctx, Observation{DeviceID: "esp32-01", Classroom: "Lab1", SwitchIDs: []string{"sw1"}, SeenAt: now}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := repo.UpsertSwitch(ctx, "esp32-01", devices.Switch{ID: "sw1", Name: "Ceiling Fan", RatedPowerW: 75}); err != nil {
		t.Fatalf("upsert switch: %v", err)
	}

	// A later observation of the same switch must not reset admin edits.
	if err := svc.Observe(ctx, Observation{DeviceID: "esp32-01", SwitchIDs: []string{"sw1"}, SeenAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("observe again: %v", err)
	}

	rated, name, err := svc.RatedPower(ctx, "esp32-01", "sw1")
	if err != nil {
		t.Fatalf("rated power: %v", err)
	}
	if rated != 75 || name != "Ceiling Fan" {
		t.Fatalf("got rated=%v name=%q, want 75/Ceiling Fan", rated, name)
	}
}

func TestRatedPower_FallsBackToDefault(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)

	rated, name, err := svc.RatedPower(context.Background(), "unknown", "sw9")
	if err != nil {
		t.Fatalf("rated power: %v", err)
	}
	if rated != 40 || name != "sw9" {
		t.Fatalf("got rated=%v name=%q, want default 40/sw9", rated, name)
	}
}

func TestOnlineCount_RespectsHeartbeatWindow(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	if err := svc.Observe(ctx, Observation{DeviceID: "fresh", Classroom: "Lab1", SeenAt: now.Add(-30 * time.Second)}); err != nil {
		t.Fatalf("observe fresh: %v", err)
	}
	if err := svc.Observe(ctx, Observation{DeviceID: "stale", Classroom: "Lab1", SeenAt: now.Add(-5 * time.Minute)}); err != nil {
		t.Fatalf("observe stale: %v", err)
	}

	count, err := svc.OnlineCount(ctx)
	if err != nil {
		t.Fatalf("online count: %v", err)
	}
	if count != 1 {
		t.Fatalf("online = %d, want 1", count)
	}
}

func TestClassrooms_Distinct(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	for _, obs := range []Observation{
		{DeviceID: "a", Classroom: "Lab1", SeenAt: now},
		{DeviceID: "b", Classroom: "Lab2", SeenAt: now},
		{DeviceID: "c", Classroom: "Lab1", SeenAt: now},
	} {
		if err := svc.Observe(ctx, obs); err != nil {
			t.Fatalf("observe %s: %v", obs.DeviceID, err)
		}
	}

	classrooms, err := svc.Classrooms(ctx)
	if err != nil {
		t.Fatalf("classrooms: %v", err)
	}
	if len(classrooms) != 2 || classrooms[0] != "Lab1" || classrooms[1] != "Lab2" {
		t.Fatalf("classrooms = %v", classrooms)
	}
}
