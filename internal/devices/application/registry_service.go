package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	devices "autovolt-cloud/internal/devices/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Observation is what one telemetry record tells us about a device.
type Observation struct {
	DeviceID    string
	LogicalName string
	Classroom   string
	SwitchIDs   []string
	SeenAt      time.Time
}

// RegistryService keeps the device registry current from telemetry
// and answers rated-power and online-state questions.
type RegistryService struct {
	repo          devices.DeviceRepository
	defaultRatedW float64
	heartbeat     time.Duration
	clock         Clock
	logger        *log.Logger
}

// RegistryOption configures the service.
type RegistryOption func(*RegistryService)

// WithDefaultRatedPower sets the rated power assigned to newly seen switches.
func WithDefaultRatedPower(watts float64) RegistryOption {
	return func(s *RegistryService) {
		if watts > 0 {
			s.defaultRatedW = watts
		}
	}
}

// WithHeartbeatWindow sets the online-detection window.
func WithHeartbeatWindow(window time.Duration) RegistryOption {
	return func(s *RegistryService) {
		if window > 0 {
			s.heartbeat = window
		}
	}
}

// WithClock overrides the clock (tests).
func WithClock(clock Clock) RegistryOption {
	return func(s *RegistryService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewRegistryService constructs the service.
func NewRegistryService(repo devices.DeviceRepository, logger *log.Logger, opts ...RegistryOption) (*RegistryService, error) {
	if repo == nil {
		return nil, errors.New("device registry: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &RegistryService{
		repo:          repo,
		defaultRatedW: 40,
		heartbeat:     60 * time.Second,
		clock:         systemClock{},
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Observe auto-registers unknown devices, refreshes the heartbeat and
// registers newly seen switch ids with default metadata.
func (s *RegistryService) Observe(ctx context.Context, obs Observation) error {
	if obs.DeviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	seenAt := obs.SeenAt
	if seenAt.IsZero() {
		seenAt = s.clock.Now()
	}
	seenAt = seenAt.UTC()

	device, err := s.repo.Get(ctx, obs.DeviceID)
	if err != nil {
		return err
	}
	if device == nil {
		device = &devices.Device{
			ID:          obs.DeviceID,
			LogicalName: obs.LogicalName,
			Classroom:   obs.Classroom,
			LastSeenAt:  &seenAt,
		}
		if err := s.repo.Upsert(ctx, device); err != nil {
			return err
		}
		s.logger.Printf("event=device_registered device_id=%s classroom=%s", obs.DeviceID, obs.Classroom)
	} else {
		if err := s.repo.TouchLastSeen(ctx, obs.DeviceID, seenAt); err != nil {
			return err
		}
		changed := false
		if device.LogicalName == "" && obs.LogicalName != "" {
			device.LogicalName = obs.LogicalName
			changed = true
		}
		if device.Classroom == "" && obs.Classroom != "" {
			device.Classroom = obs.Classroom
			changed = true
		}
		if changed {
			device.LastSeenAt = &seenAt
			if err := s.repo.Upsert(ctx, device); err != nil {
				return err
			}
		}
	}

	ids := append([]string(nil), obs.SwitchIDs...)
	sort.Strings(ids)
	for _, switchID := range ids {
		if switchID == "" {
			continue
		}
		sw := devices.Switch{ID: switchID, Name: switchID, RatedPowerW: s.defaultRatedW}
		if err := s.repo.EnsureSwitch(ctx, obs.DeviceID, sw); err != nil {
			return err
		}
	}
	return nil
}

// RatedPower returns the rated wattage and display name for a switch,
// falling back to the configured default for unknown switches.
func (s *RegistryService) RatedPower(ctx context.Context, deviceID, switchID string) (float64, string, error) {
	device, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return s.defaultRatedW, switchID, err
	}
	if device == nil {
		return s.defaultRatedW, switchID, nil
	}
	if sw, ok := device.SwitchByID(switchID); ok {
		name := sw.Name
		if name == "" {
			name = switchID
		}
		rated := sw.RatedPowerW
		if rated <= 0 {
			rated = s.defaultRatedW
		}
		return rated, name, nil
	}
	return s.defaultRatedW, switchID, nil
}

// Get returns the stored device.
func (s *RegistryService) Get(ctx context.Context, deviceID string) (*devices.Device, error) {
	return s.repo.Get(ctx, deviceID)
}

// List returns all registered devices.
func (s *RegistryService) List(ctx context.Context) ([]devices.Device, error) {
	return s.repo.List(ctx)
}

// ListByClassroom returns the classroom's devices.
func (s *RegistryService) ListByClassroom(ctx context.Context, classroom string) ([]devices.Device, error) {
	return s.repo.ListByClassroom(ctx, classroom)
}

// Classrooms returns the distinct classrooms with registered devices.
func (s *RegistryService) Classrooms(ctx context.Context) ([]string, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var result []string
	for _, device := range all {
		if device.Classroom == "" {
			continue
		}
		if _, ok := seen[device.Classroom]; ok {
			continue
		}
		seen[device.Classroom] = struct{}{}
		result = append(result, device.Classroom)
	}
	sort.Strings(result)
	return result, nil
}

// OnlineCount reports how many devices are within the heartbeat window.
func (s *RegistryService) OnlineCount(ctx context.Context) (int, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	count := 0
	for _, device := range all {
		if device.Online(now, s.heartbeat) {
			count++
		}
	}
	return count, nil
}

// HeartbeatWindow exposes the configured window.
func (s *RegistryService) HeartbeatWindow() time.Duration {
	return s.heartbeat
}
