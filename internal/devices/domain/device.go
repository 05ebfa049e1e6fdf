package devices

import (
	"context"
	"time"
)

// Switch is one controllable load on a device.
type Switch struct {
	ID          string
	Name        string
	RatedPowerW float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Device represents a classroom controller and its switches.
type Device struct {
	ID          string
	LogicalName string
	Classroom   string
	Switches    []Switch
	LastSeenAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return ErrEmptyDeviceID
	}
	return nil
}

// Online reports whether the device heartbeat is within the window.
func (d Device) Online(now time.Time, window time.Duration) bool {
	if d.LastSeenAt == nil || window <= 0 {
		return false
	}
	return now.Sub(*d.LastSeenAt) <= window
}

// SwitchByID returns the switch with the given id, if registered.
func (d Device) SwitchByID(switchID string) (Switch, bool) {
	for _, sw := range d.Switches {
		if sw.ID == switchID {
			return sw, true
		}
	}
	return Switch{}, false
}

// DeviceRepository manages device persistence.
type DeviceRepository interface {
	Get(ctx context.Context, deviceID string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	ListByClassroom(ctx context.Context, classroom string) ([]Device, error)
	Upsert(ctx context.Context, device *Device) error
	TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error
	// EnsureSwitch registers a switch if absent; existing rows are untouched.
	EnsureSwitch(ctx context.Context, deviceID string, sw Switch) error
	// UpsertSwitch overwrites switch metadata (admin/seed path).
	UpsertSwitch(ctx context.Context, deviceID string, sw Switch) error
}
