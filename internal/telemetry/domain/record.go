package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// Reading kinds.
const (
	KindMeasured  = "measured"
	KindEstimated = "estimated"
)

// Device statuses carried on a record.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reading is the validated payload of a telemetry record. A record
// carrying a cumulative energy counter is Measured; one carrying only
// switch states is Estimated.
type Reading interface {
	Kind() string
	States() map[string]bool
	Power() *float64
}

// Measured is a reading from a device with an energy meter.
type Measured struct {
	EnergyWhCounter float64
	PowerW          *float64
	SwitchStates    map[string]bool
}

func (m Measured) Kind() string            { return KindMeasured }
func (m Measured) States() map[string]bool { return m.SwitchStates }
func (m Measured) Power() *float64         { return m.PowerW }

// Estimated is a reading from a relay-only device without a meter.
type Estimated struct {
	PowerW       *float64
	SwitchStates map[string]bool
}

func (e Estimated) Kind() string            { return KindEstimated }
func (e Estimated) States() map[string]bool { return e.SwitchStates }
func (e Estimated) Power() *float64         { return e.PowerW }

// Record is one immutable telemetry sample as accepted at the ingest
// boundary. Records are append-only; reprocessing never mutates them
// beyond the processed flag.
type Record struct {
	RecordID    string
	DeviceID    string
	LogicalName string
	Classroom   string
	TS          time.Time
	Reading     Reading
	Status      string
	Raw         json.RawMessage
	ReceivedAt  time.Time
	Processed   bool
}

// Validate checks the invariants established at the ingest boundary.
func (r *Record) Validate() error {
	if r == nil {
		return ErrNilRecord
	}
	if r.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if r.TS.IsZero() {
		return ErrInvalidTimestamp
	}
	if r.Reading == nil {
		return ErrMissingReading
	}
	if len(r.Reading.States()) == 0 {
		return ErrEmptySwitchStates
	}
	if m, ok := r.Reading.(Measured); ok && m.EnergyWhCounter < 0 {
		return ErrNegativeCounter
	}
	return nil
}

// TelemetryRepository persists immutable telemetry records.
type TelemetryRepository interface {
	// Insert appends a record. Returns false when a record with the
	// same (device_id, ts) already exists; replays are silent no-ops.
	Insert(ctx context.Context, record *Record) (bool, error)
	Get(ctx context.Context, recordID string) (*Record, error)
	// LatestForDevice returns the most recent record by ts, nil when
	// the device has never reported.
	LatestForDevice(ctx context.Context, deviceID string) (*Record, error)
	MarkProcessed(ctx context.Context, recordIDs []string) error
	CountTotal(ctx context.Context) (int64, error)
	CountUnprocessed(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}
