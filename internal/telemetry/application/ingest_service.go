package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	devapp "autovolt-cloud/internal/devices/application"
	"autovolt-cloud/internal/eventing"
	"autovolt-cloud/internal/observability/metrics"
	"autovolt-cloud/internal/telemetry/application/events"
	telemetry "autovolt-cloud/internal/telemetry/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Publisher sends events through the durable outbox.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// DeviceObserver keeps the device registry current from telemetry.
type DeviceObserver interface {
	Observe(ctx context.Context, obs devapp.Observation) error
	OnlineCount(ctx context.Context) (int, error)
}

// IngestResult reports what happened to one record.
type IngestResult struct {
	Accepted bool
	RecordID string
	Reason   string
}

// IngestStats is the health snapshot of the ingest pipeline.
type IngestStats struct {
	TotalEvents       int64 `json:"total_events"`
	UnprocessedEvents int64 `json:"unprocessed_events"`
	EventsLastHour    int64 `json:"events_last_hour"`
	OnlineDevices     int   `json:"online_devices"`
	Accepted          int64 `json:"accepted"`
	Discarded         int64 `json:"discarded"`
}

// IngestService validates and persists telemetry records and publishes
// TelemetryReceived events. Malformed records are discarded, counted
// and logged; the transport caller never sees an error for them.
type IngestService struct {
	repo      telemetry.TelemetryRepository
	registry  DeviceObserver
	publisher Publisher
	clock     Clock
	logger    *log.Logger

	accepted  atomic.Int64
	discarded atomic.Int64
}

// IngestOption configures the service.
type IngestOption func(*IngestService)

// WithClock overrides the clock (tests).
func WithClock(clock Clock) IngestOption {
	return func(s *IngestService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewIngestService constructs the service.
func NewIngestService(repo telemetry.TelemetryRepository, registry DeviceObserver, publisher Publisher, logger *log.Logger, opts ...IngestOption) (*IngestService, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if registry == nil {
		return nil, errors.New("telemetry ingest: nil device registry")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &IngestService{
		repo:      repo,
		registry:  registry,
		publisher: publisher,
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest accepts one telemetry record. A validation failure returns
// Accepted=false and a nil error; only internal failures (storage,
// publish) surface as errors.
func (s *IngestService) Ingest(ctx context.Context, record *telemetry.Record) (IngestResult, error) {
	if err := record.Validate(); err != nil {
		s.discarded.Add(1)
		metrics.IncIngestError(discardReason(err))
		deviceID := ""
		if record != nil {
			deviceID = record.DeviceID
		}
		s.logger.Printf("event=telemetry_discarded device_id=%s reason=%q", deviceID, err)
		return IngestResult{Accepted: false, Reason: err.Error()}, nil
	}

	now := s.clock.Now()
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	record.TS = record.TS.UTC()
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = now
	}
	if record.Status == "" {
		record.Status = telemetry.StatusOnline
	}

	obs := devapp.Observation{
		DeviceID:    record.DeviceID,
		LogicalName: record.LogicalName,
		Classroom:   record.Classroom,
		SwitchIDs:   switchIDs(record.Reading.States()),
		SeenAt:      record.TS,
	}
	if err := s.registry.Observe(ctx, obs); err != nil {
		return IngestResult{}, err
	}

	created, err := s.repo.Insert(ctx, record)
	if err != nil {
		return IngestResult{}, err
	}
	if !created {
		// Replayed (device_id, ts): already stored, nothing to publish.
		s.logger.Printf("event=telemetry_replayed device_id=%s ts=%s", record.DeviceID, record.TS.Format(time.RFC3339))
		return IngestResult{Accepted: true, RecordID: record.RecordID, Reason: "duplicate"}, nil
	}

	if s.publisher != nil {
		event := events.TelemetryReceived{
			EventID:    uuid.NewString(),
			RecordID:   record.RecordID,
			DeviceID:   record.DeviceID,
			Classroom:  record.Classroom,
			TS:         record.TS,
			OccurredAt: now,
		}
		publishCtx := eventing.WithEventID(ctx, event.EventID)
		if err := s.publisher.Publish(publishCtx, event); err != nil {
			return IngestResult{}, err
		}
	}

	s.accepted.Add(1)
	return IngestResult{Accepted: true, RecordID: record.RecordID}, nil
}

// MarkProcessed flags records whose intervals have been closed.
func (s *IngestService) MarkProcessed(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	return s.repo.MarkProcessed(ctx, recordIDs)
}

// Get loads a stored record by id.
func (s *IngestService) Get(ctx context.Context, recordID string) (*telemetry.Record, error) {
	return s.repo.Get(ctx, recordID)
}

// LatestForDevice returns the device's most recent record.
func (s *IngestService) LatestForDevice(ctx context.Context, deviceID string) (*telemetry.Record, error) {
	return s.repo.LatestForDevice(ctx, deviceID)
}

// Stats composes the ingest health snapshot.
func (s *IngestService) Stats(ctx context.Context) (IngestStats, error) {
	total, err := s.repo.CountTotal(ctx)
	if err != nil {
		return IngestStats{}, err
	}
	unprocessed, err := s.repo.CountUnprocessed(ctx)
	if err != nil {
		return IngestStats{}, err
	}
	lastHour, err := s.repo.CountSince(ctx, s.clock.Now().Add(-time.Hour))
	if err != nil {
		return IngestStats{}, err
	}
	online, err := s.registry.OnlineCount(ctx)
	if err != nil {
		return IngestStats{}, err
	}
	return IngestStats{
		TotalEvents:       total,
		UnprocessedEvents: unprocessed,
		EventsLastHour:    lastHour,
		OnlineDevices:     online,
		Accepted:          s.accepted.Load(),
		Discarded:         s.discarded.Load(),
	}, nil
}

func switchIDs(states map[string]bool) []string {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrMissingDeviceID):
		return "missing_device_id"
	case errors.Is(err, telemetry.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, telemetry.ErrMissingReading):
		return "missing_reading"
	case errors.Is(err, telemetry.ErrEmptySwitchStates):
		return "empty_switch_states"
	case errors.Is(err, telemetry.ErrNegativeCounter):
		return "negative_counter"
	default:
		return "invalid"
	}
}
