package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	analytics "autovolt-cloud/internal/analytics/domain"
)

const defaultMonthlyTable = "monthly_aggregates"

// MonthlyRepository persists monthly aggregates with their day-by-day
// breakdown as a JSONB array.
type MonthlyRepository struct {
	db    *sql.DB
	table string
}

// MonthlyRepositoryOption configures the repository.
type MonthlyRepositoryOption func(*MonthlyRepository)

// WithMonthlyTable overrides the table name.
func WithMonthlyTable(table string) MonthlyRepositoryOption {
	return func(r *MonthlyRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewMonthlyRepository returns a Postgres-backed monthly aggregate store.
func NewMonthlyRepository(db *sql.DB, opts ...MonthlyRepositoryOption) (*MonthlyRepository, error) {
	if db == nil {
		return nil, errors.New("monthly repository: nil db")
	}
	r := &MonthlyRepository{db: db, table: defaultMonthlyTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Upsert writes the aggregate, replacing any previous row for the
// (device_id, month) key.
func (r *MonthlyRepository) Upsert(ctx context.Context, agg *analytics.MonthlyAggregate) error {
	if agg == nil {
		return errors.New("monthly repository: nil aggregate")
	}
	totals := agg.DailyTotals
	if totals == nil {
		totals = []analytics.DailyTotal{}
	}
	dailyTotals, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("upsert monthly aggregate: marshal daily totals: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(device_id, classroom, month, timezone,
		 total_wh, total_kwh, on_time_sec, cost_at_calc_time, currency,
		 daily_totals, calc_run_id, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (device_id, month) DO UPDATE SET
			classroom = EXCLUDED.classroom,
			timezone = EXCLUDED.timezone,
			total_wh = EXCLUDED.total_wh,
			total_kwh = EXCLUDED.total_kwh,
			on_time_sec = EXCLUDED.on_time_sec,
			cost_at_calc_time = EXCLUDED.cost_at_calc_time,
			currency = EXCLUDED.currency,
			daily_totals = EXCLUDED.daily_totals,
			calc_run_id = EXCLUDED.calc_run_id,
			calculated_at = EXCLUDED.calculated_at`, r.table)

	_, err = r.db.ExecContext(ctx, query,
		agg.DeviceID, agg.Classroom, agg.Month, agg.Timezone,
		agg.TotalWh, agg.TotalKWh, agg.OnTimeSec, agg.CostAtCalcTime, agg.Currency,
		dailyTotals, agg.CalcRunID, agg.CalculatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert monthly aggregate: %w", err)
	}
	return nil
}

// ListByClassroomMonth lists a classroom's device rows for one month.
func (r *MonthlyRepository) ListByClassroomMonth(ctx context.Context, classroom, month string) ([]analytics.MonthlyAggregate, error) {
	query := fmt.Sprintf(`SELECT device_id, classroom, month, timezone,
		total_wh, total_kwh, on_time_sec, cost_at_calc_time, currency,
		daily_totals, calc_run_id, calculated_at
		FROM %s
		WHERE classroom = $1 AND month = $2
		ORDER BY device_id`, r.table)

	rows, err := r.db.QueryContext(ctx, query, classroom, month)
	if err != nil {
		return nil, fmt.Errorf("list monthly aggregates: %w", err)
	}
	defer rows.Close()

	var out []analytics.MonthlyAggregate
	for rows.Next() {
		var (
			agg         analytics.MonthlyAggregate
			dailyTotals []byte
		)
		if err := rows.Scan(
			&agg.DeviceID, &agg.Classroom, &agg.Month, &agg.Timezone,
			&agg.TotalWh, &agg.TotalKWh, &agg.OnTimeSec, &agg.CostAtCalcTime, &agg.Currency,
			&dailyTotals, &agg.CalcRunID, &agg.CalculatedAt,
		); err != nil {
			return nil, fmt.Errorf("list monthly aggregates: %w", err)
		}
		if len(dailyTotals) > 0 {
			if err := json.Unmarshal(dailyTotals, &agg.DailyTotals); err != nil {
				return nil, fmt.Errorf("list monthly aggregates: daily totals: %w", err)
			}
		}
		agg.CalculatedAt = agg.CalculatedAt.UTC()
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list monthly aggregates: %w", err)
	}
	return out, nil
}
