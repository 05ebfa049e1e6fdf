package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	devices "autovolt-cloud/internal/devices/domain"
)

// DeviceRepository is an in-memory registry for tests and local runs.
type DeviceRepository struct {
	mu      sync.RWMutex
	byID    map[string]*devices.Device
	nowFunc func() time.Time
}

// NewDeviceRepository constructs an empty repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{
		byID:    make(map[string]*devices.Device),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock (tests).
func (r *DeviceRepository) WithNow(now func() time.Time) *DeviceRepository {
	if now != nil {
		r.nowFunc = now
	}
	return r
}

// Get returns a copy of the stored device or nil.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*devices.Device, error) {
	if deviceID == "" {
		return nil, devices.ErrEmptyDeviceID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.byID[deviceID]
	if !ok {
		return nil, nil
	}
	clone := cloneDevice(device)
	return &clone, nil
}

// List returns copies of all devices ordered by id.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]devices.Device, 0, len(r.byID))
	for _, device := range r.byID {
		result = append(result, cloneDevice(device))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListByClassroom returns devices of one classroom.
func (r *DeviceRepository) ListByClassroom(ctx context.Context, classroom string) ([]devices.Device, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var result []devices.Device
	for _, device := range all {
		if device.Classroom == classroom {
			result = append(result, device)
		}
	}
	return result, nil
}

// Upsert stores a copy of the device, preserving registered switches.
func (r *DeviceRepository) Upsert(ctx context.Context, device *devices.Device) error {
	if device == nil {
		return devices.ErrNilDevice
	}
	if err := device.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFunc()
	clone := cloneDevice(device)
	if existing, ok := r.byID[device.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
		if len(clone.Switches) == 0 {
			clone.Switches = existing.Switches
		}
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	r.byID[device.ID] = &clone
	device.CreatedAt = clone.CreatedAt
	device.UpdatedAt = clone.UpdatedAt
	return nil
}

// TouchLastSeen advances the heartbeat timestamp, never backwards.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	if deviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.byID[deviceID]
	if !ok {
		return nil
	}
	seenAt = seenAt.UTC()
	if device.LastSeenAt == nil || seenAt.After(*device.LastSeenAt) {
		device.LastSeenAt = &seenAt
	}
	device.UpdatedAt = r.nowFunc()
	return nil
}

// EnsureSwitch registers a switch if absent.
func (r *DeviceRepository) EnsureSwitch(ctx context.Context, deviceID string, sw devices.Switch) error {
	if deviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	if sw.ID == "" {
		return devices.ErrEmptySwitchID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.byID[deviceID]
	if !ok {
		return nil
	}
	for _, existing := range device.Switches {
		if existing.ID == sw.ID {
			return nil
		}
	}
	now := r.nowFunc()
	sw.CreatedAt = now
	sw.UpdatedAt = now
	device.Switches = append(device.Switches, sw)
	sort.Slice(device.Switches, func(i, j int) bool { return device.Switches[i].ID < device.Switches[j].ID })
	return nil
}

// UpsertSwitch overwrites switch metadata.
func (r *DeviceRepository) UpsertSwitch(ctx context.Context, deviceID string, sw devices.Switch) error {
	if deviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	if sw.ID == "" {
		return devices.ErrEmptySwitchID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.byID[deviceID]
	if !ok {
		return nil
	}
	now := r.nowFunc()
	for i, existing := range device.Switches {
		if existing.ID == sw.ID {
			sw.CreatedAt = existing.CreatedAt
			sw.UpdatedAt = now
			device.Switches[i] = sw
			return nil
		}
	}
	sw.CreatedAt = now
	sw.UpdatedAt = now
	device.Switches = append(device.Switches, sw)
	sort.Slice(device.Switches, func(i, j int) bool { return device.Switches[i].ID < device.Switches[j].ID })
	return nil
}

func cloneDevice(device *devices.Device) devices.Device {
	clone := *device
	if device.LastSeenAt != nil {
		t := *device.LastSeenAt
		clone.LastSeenAt = &t
	}
	clone.Switches = append([]devices.Switch(nil), device.Switches...)
	return clone
}
