package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	analytics "autovolt-cloud/internal/analytics/domain"
)

const defaultDailyTable = "daily_aggregates"

// DailyRepository persists daily aggregates. Upsert replaces the whole
// row; aggregates are derived artifacts, never incremented in place.
type DailyRepository struct {
	db    *sql.DB
	table string
}

// DailyRepositoryOption configures the repository.
type DailyRepositoryOption func(*DailyRepository)

// WithDailyTable overrides the table name.
func WithDailyTable(table string) DailyRepositoryOption {
	return func(r *DailyRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewDailyRepository returns a Postgres-backed daily aggregate store.
func NewDailyRepository(db *sql.DB, opts ...DailyRepositoryOption) (*DailyRepository, error) {
	if db == nil {
		return nil, errors.New("daily repository: nil db")
	}
	r := &DailyRepository{db: db, table: defaultDailyTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Upsert writes the aggregate, replacing any previous row for the
// (device_id, date) key.
func (r *DailyRepository) Upsert(ctx context.Context, agg *analytics.DailyAggregate) error {
	if agg == nil {
		return errors.New("daily repository: nil aggregate")
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(device_id, classroom, date, timezone,
		 total_wh, total_kwh, on_time_sec, cost_at_calc_time, currency,
		 measured_wh, estimated_wh, entries_high, entries_medium, entries_low,
		 calc_run_id, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (device_id, date) DO UPDATE SET
			classroom = EXCLUDED.classroom,
			timezone = EXCLUDED.timezone,
			total_wh = EXCLUDED.total_wh,
			total_kwh = EXCLUDED.total_kwh,
			on_time_sec = EXCLUDED.on_time_sec,
			cost_at_calc_time = EXCLUDED.cost_at_calc_time,
			currency = EXCLUDED.currency,
			measured_wh = EXCLUDED.measured_wh,
			estimated_wh = EXCLUDED.estimated_wh,
			entries_high = EXCLUDED.entries_high,
			entries_medium = EXCLUDED.entries_medium,
			entries_low = EXCLUDED.entries_low,
			calc_run_id = EXCLUDED.calc_run_id,
			calculated_at = EXCLUDED.calculated_at`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		agg.DeviceID, agg.Classroom, agg.Date, agg.Timezone,
		agg.TotalWh, agg.TotalKWh, agg.OnTimeSec, agg.CostAtCalcTime, agg.Currency,
		agg.MeasuredWh, agg.EstimatedWh, agg.Entries.High, agg.Entries.Medium, agg.Entries.Low,
		agg.CalcRunID, agg.CalculatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert daily aggregate: %w", err)
	}
	return nil
}

// ListByClassroomDate lists a classroom's device rows for one date.
func (r *DailyRepository) ListByClassroomDate(ctx context.Context, classroom, date string) ([]analytics.DailyAggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE classroom = $1 AND date = $2
		ORDER BY device_id`, dailyColumns, r.table)
	return r.list(ctx, query, classroom, date)
}

// ListByClassroomMonth lists a classroom's daily rows inside a month.
func (r *DailyRepository) ListByClassroomMonth(ctx context.Context, classroom, month string) ([]analytics.DailyAggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE classroom = $1 AND date LIKE $2
		ORDER BY date, device_id`, dailyColumns, r.table)
	return r.list(ctx, query, classroom, month+"-%")
}

func (r *DailyRepository) list(ctx context.Context, query string, args ...any) ([]analytics.DailyAggregate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []analytics.DailyAggregate
	for rows.Next() {
		var agg analytics.DailyAggregate
		if err := rows.Scan(
			&agg.DeviceID, &agg.Classroom, &agg.Date, &agg.Timezone,
			&agg.TotalWh, &agg.TotalKWh, &agg.OnTimeSec, &agg.CostAtCalcTime, &agg.Currency,
			&agg.MeasuredWh, &agg.EstimatedWh, &agg.Entries.High, &agg.Entries.Medium, &agg.Entries.Low,
			&agg.CalcRunID, &agg.CalculatedAt,
		); err != nil {
			return nil, fmt.Errorf("list daily aggregates: %w", err)
		}
		agg.CalculatedAt = agg.CalculatedAt.UTC()
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list daily aggregates: %w", err)
	}
	return out, nil
}

const dailyColumns = `device_id, classroom, date, timezone,
	total_wh, total_kwh, on_time_sec, cost_at_calc_time, currency,
	measured_wh, estimated_wh, entries_high, entries_medium, entries_low,
	calc_run_id, calculated_at`
