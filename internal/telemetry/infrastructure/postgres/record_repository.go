package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	telemetry "autovolt-cloud/internal/telemetry/domain"
)

const defaultRecordTable = "telemetry_records"

// RecordRepository is a Postgres implementation for telemetry records.
type RecordRepository struct {
	db    *sql.DB
	table string
}

// NewRecordRepository constructs a repository with default table name.
func NewRecordRepository(db *sql.DB, opts ...RepositoryOption) *RecordRepository {
	repo := &RecordRepository{db: db, table: defaultRecordTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*RecordRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *RecordRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Insert appends a telemetry record. Records are immutable; a replayed
// (device_id, ts) pair is a silent no-op and returns false.
func (r *RecordRepository) Insert(ctx context.Context, record *telemetry.Record) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("telemetry repo: nil db")
	}
	if record == nil {
		return false, telemetry.ErrNilRecord
	}

	states, err := json.Marshal(record.Reading.States())
	if err != nil {
		return false, err
	}
	counter := sql.NullFloat64{}
	if m, ok := record.Reading.(telemetry.Measured); ok {
		counter = sql.NullFloat64{Float64: m.EnergyWhCounter, Valid: true}
	}
	power := sql.NullFloat64{}
	if p := record.Reading.Power(); p != nil {
		power = sql.NullFloat64{Float64: *p, Valid: true}
	}
	raw := record.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	record_id,
	device_id,
	logical_name,
	classroom,
	ts,
	kind,
	energy_wh_counter,
	power_w,
	switch_states,
	status,
	raw,
	received_at,
	processed
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE
)
ON CONFLICT (device_id, ts)
DO NOTHING`, r.table)

	result, err := r.db.ExecContext(
		ctx,
		query,
		record.RecordID,
		record.DeviceID,
		record.LogicalName,
		record.Classroom,
		record.TS.UTC(),
		record.Reading.Kind(),
		counter,
		power,
		states,
		record.Status,
		[]byte(raw),
		record.ReceivedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get loads a record by id.
func (r *RecordRepository) Get(ctx context.Context, recordID string) (*telemetry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT record_id, device_id, logical_name, classroom, ts, kind,
       energy_wh_counter, power_w, switch_states, status, raw,
       received_at, processed
FROM %s
WHERE record_id = $1`, r.table)
	return scanRecord(r.db.QueryRowContext(ctx, query, recordID))
}

// LatestForDevice returns the most recent record by ts for a device.
func (r *RecordRepository) LatestForDevice(ctx context.Context, deviceID string) (*telemetry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT record_id, device_id, logical_name, classroom, ts, kind,
       energy_wh_counter, power_w, switch_states, status, raw,
       received_at, processed
FROM %s
WHERE device_id = $1
ORDER BY ts DESC
LIMIT 1`, r.table)
	return scanRecord(r.db.QueryRowContext(ctx, query, deviceID))
}

// MarkProcessed flags records as processed.
func (r *RecordRepository) MarkProcessed(ctx context.Context, recordIDs []string) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(recordIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(recordIDs))
	args := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE %s SET processed = TRUE WHERE record_id IN (%s)`,
		r.table, strings.Join(placeholders, ", "))
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// CountTotal returns the total stored record count.
func (r *RecordRepository) CountTotal(ctx context.Context) (int64, error) {
	return r.countWhere(ctx, "", nil)
}

// CountUnprocessed returns records not yet consumed by the ledger.
func (r *RecordRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	return r.countWhere(ctx, "WHERE processed = FALSE", nil)
}

// CountSince returns records received after the given instant.
func (r *RecordRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return r.countWhere(ctx, "WHERE received_at >= $1", []any{since.UTC()})
}

func (r *RecordRepository) countWhere(ctx context.Context, where string, args []any) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("telemetry repo: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.table, where)
	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*telemetry.Record, error) {
	var (
		record  telemetry.Record
		kind    string
		counter sql.NullFloat64
		power   sql.NullFloat64
		states  []byte
		raw     []byte
	)
	err := row.Scan(
		&record.RecordID,
		&record.DeviceID,
		&record.LogicalName,
		&record.Classroom,
		&record.TS,
		&kind,
		&counter,
		&power,
		&states,
		&record.Status,
		&raw,
		&record.ReceivedAt,
		&record.Processed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switchStates := map[string]bool{}
	if len(states) > 0 {
		if err := json.Unmarshal(states, &switchStates); err != nil {
			return nil, fmt.Errorf("telemetry repo: decode switch states: %w", err)
		}
	}
	var powerPtr *float64
	if power.Valid {
		v := power.Float64
		powerPtr = &v
	}
	switch kind {
	case telemetry.KindMeasured:
		record.Reading = telemetry.Measured{
			EnergyWhCounter: counter.Float64,
			PowerW:          powerPtr,
			SwitchStates:    switchStates,
		}
	default:
		record.Reading = telemetry.Estimated{
			PowerW:       powerPtr,
			SwitchStates: switchStates,
		}
	}
	if len(raw) > 0 {
		record.Raw = json.RawMessage(raw)
	}
	record.TS = record.TS.UTC()
	record.ReceivedAt = record.ReceivedAt.UTC()
	return &record, nil
}
