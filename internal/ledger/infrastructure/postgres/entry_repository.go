package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ledger "autovolt-cloud/internal/ledger/domain"
)

const defaultEntryTable = "ledger_entries"

// EntryRepository persists ledger entries. The UNIQUE constraint on
// (device_id, switch_id, start_ts) makes Append idempotent.
type EntryRepository struct {
	db    *sql.DB
	table string
}

// EntryRepositoryOption configures the repository.
type EntryRepositoryOption func(*EntryRepository)

// WithEntryTable overrides the table name.
func WithEntryTable(table string) EntryRepositoryOption {
	return func(r *EntryRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewEntryRepository returns a Postgres-backed entry repository.
func NewEntryRepository(db *sql.DB, opts ...EntryRepositoryOption) (*EntryRepository, error) {
	if db == nil {
		return nil, errors.New("entry repository: nil db")
	}
	r := &EntryRepository{db: db, table: defaultEntryTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Append inserts the entry, reporting false when an entry with the
// same (device_id, switch_id, start_ts) already exists.
func (r *EntryRepository) Append(ctx context.Context, entry *ledger.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(entry_id, device_id, switch_id, switch_name, classroom,
		 start_ts, end_ts, duration_seconds, delta_wh, power_w,
		 switch_state, method, confidence, reason,
		 cost_per_kwh, cost_inr, currency, price_version_id,
		 calc_run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (device_id, switch_id, start_ts) DO NOTHING`, r.table)

	var power sql.NullFloat64
	if entry.PowerW != nil {
		power = sql.NullFloat64{Float64: *entry.PowerW, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		entry.EntryID, entry.DeviceID, entry.SwitchID, entry.SwitchName, entry.Classroom,
		entry.StartTS.UTC(), entry.EndTS.UTC(), entry.DurationSeconds, entry.DeltaWh, power,
		entry.SwitchState, entry.Method, entry.Confidence, entry.Reason,
		entry.CostPerKWh, entry.CostINR, entry.Currency, entry.PriceVersionID,
		entry.CalcRunID, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("append ledger entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append ledger entry: rows affected: %w", err)
	}
	return affected > 0, nil
}

// LatestForSwitch returns the entry with the newest end_ts for the key,
// or nil when the switch has no ledger history yet.
func (r *EntryRepository) LatestForSwitch(ctx context.Context, deviceID, switchID string) (*ledger.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE device_id = $1 AND switch_id = $2
		ORDER BY end_ts DESC LIMIT 1`, entryColumns, r.table)
	row := r.db.QueryRowContext(ctx, query, deviceID, switchID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest entry for switch: %w", err)
	}
	return entry, nil
}

// ListOverlapping returns entries for a classroom whose interval
// overlaps [from, to), ordered by start_ts. A half-open comparison
// keeps entries ending exactly at `from` out and entries starting
// exactly at `to` out.
func (r *EntryRepository) ListOverlapping(ctx context.Context, classroom string, from, to time.Time) ([]ledger.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE classroom = $1 AND start_ts < $3 AND end_ts > $2
		ORDER BY start_ts, device_id, switch_id`, entryColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, classroom, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list overlapping entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list overlapping entries: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list overlapping entries: %w", err)
	}
	return entries, nil
}

const entryColumns = `entry_id, device_id, switch_id, switch_name, classroom,
	start_ts, end_ts, duration_seconds, delta_wh, power_w,
	switch_state, method, confidence, reason,
	cost_per_kwh, cost_inr, currency, price_version_id,
	calc_run_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		entry ledger.Entry
		power sql.NullFloat64
	)
	err := row.Scan(
		&entry.EntryID, &entry.DeviceID, &entry.SwitchID, &entry.SwitchName, &entry.Classroom,
		&entry.StartTS, &entry.EndTS, &entry.DurationSeconds, &entry.DeltaWh, &power,
		&entry.SwitchState, &entry.Method, &entry.Confidence, &entry.Reason,
		&entry.CostPerKWh, &entry.CostINR, &entry.Currency, &entry.PriceVersionID,
		&entry.CalcRunID, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if power.Valid {
		v := power.Float64
		entry.PowerW = &v
	}
	entry.StartTS = entry.StartTS.UTC()
	entry.EndTS = entry.EndTS.UTC()
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}
