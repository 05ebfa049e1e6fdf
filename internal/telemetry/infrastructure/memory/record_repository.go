package memory

import (
	"context"
	"sync"
	"time"

	telemetry "autovolt-cloud/internal/telemetry/domain"
)

type deviceTS struct {
	deviceID string
	ts       time.Time
}

// RecordRepository is an in-memory telemetry store for tests.
type RecordRepository struct {
	mu    sync.RWMutex
	byID  map[string]*telemetry.Record
	byKey map[deviceTS]string
}

// NewRecordRepository constructs an empty store.
func NewRecordRepository() *RecordRepository {
	return &RecordRepository{
		byID:  make(map[string]*telemetry.Record),
		byKey: make(map[deviceTS]string),
	}
}

// Insert appends a record; replays of (device_id, ts) return false.
func (r *RecordRepository) Insert(_ context.Context, record *telemetry.Record) (bool, error) {
	if record == nil {
		return false, telemetry.ErrNilRecord
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := deviceTS{deviceID: record.DeviceID, ts: record.TS.UTC()}
	if _, exists := r.byKey[key]; exists {
		return false, nil
	}
	clone := cloneRecord(record)
	r.byID[clone.RecordID] = clone
	r.byKey[key] = clone.RecordID
	return true, nil
}

// Get loads a record by id.
func (r *RecordRepository) Get(_ context.Context, recordID string) (*telemetry.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.byID[recordID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(record), nil
}

// LatestForDevice returns the most recent record by ts.
func (r *RecordRepository) LatestForDevice(_ context.Context, deviceID string) (*telemetry.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *telemetry.Record
	for _, record := range r.byID {
		if record.DeviceID != deviceID {
			continue
		}
		if latest == nil || record.TS.After(latest.TS) {
			latest = record
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRecord(latest), nil
}

// MarkProcessed flags records as processed.
func (r *RecordRepository) MarkProcessed(_ context.Context, recordIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range recordIDs {
		if record, ok := r.byID[id]; ok {
			record.Processed = true
		}
	}
	return nil
}

// CountTotal returns the stored record count.
func (r *RecordRepository) CountTotal(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byID)), nil
}

// CountUnprocessed returns records not yet consumed.
func (r *RecordRepository) CountUnprocessed(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, record := range r.byID {
		if !record.Processed {
			count++
		}
	}
	return count, nil
}

// CountSince returns records received after the given instant.
func (r *RecordRepository) CountSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, record := range r.byID {
		if !record.ReceivedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func cloneRecord(record *telemetry.Record) *telemetry.Record {
	clone := *record
	switch reading := record.Reading.(type) {
	case telemetry.Measured:
		states := make(map[string]bool, len(reading.SwitchStates))
		for k, v := range reading.SwitchStates {
			states[k] = v
		}
		clone.Reading = telemetry.Measured{
			EnergyWhCounter: reading.EnergyWhCounter,
			PowerW:          clonePtr(reading.PowerW),
			SwitchStates:    states,
		}
	case telemetry.Estimated:
		states := make(map[string]bool, len(reading.SwitchStates))
		for k, v := range reading.SwitchStates {
			states[k] = v
		}
		clone.Reading = telemetry.Estimated{
			PowerW:       clonePtr(reading.PowerW),
			SwitchStates: states,
		}
	}
	if len(record.Raw) > 0 {
		clone.Raw = append([]byte(nil), record.Raw...)
	}
	return &clone
}

func clonePtr(value *float64) *float64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
