package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"autovolt-cloud/internal/reconcile/application"
)

const defaultRunTable = "reconcile_runs"

// RunRepository persists reconcile run reports.
type RunRepository struct {
	db    *sql.DB
	table string
}

// RunRepositoryOption configures the repository.
type RunRepositoryOption func(*RunRepository)

// WithRunTable overrides the table name.
func WithRunTable(table string) RunRepositoryOption {
	return func(r *RunRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewRunRepository returns a Postgres-backed run store.
func NewRunRepository(db *sql.DB, opts ...RunRepositoryOption) (*RunRepository, error) {
	if db == nil {
		return nil, errors.New("run repository: nil db")
	}
	r := &RunRepository{db: db, table: defaultRunTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SaveRun inserts a run report.
func (r *RunRepository) SaveRun(ctx context.Context, report *application.Report) error {
	if report == nil {
		return errors.New("run repository: nil report")
	}
	failed := report.Failed
	if failed == nil {
		failed = []string{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("save reconcile run: marshal failed list: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(run_id, started_at, finished_at, devices_checked, gaps_found,
		 entries_created, reaggregated_days, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.table)

	_, err = r.db.ExecContext(ctx, query,
		report.RunID, report.StartedAt.UTC(), report.FinishedAt.UTC(),
		report.DevicesChecked, report.GapsFound,
		report.EntriesCreated, report.ReaggregatedDays, failedJSON,
	)
	if err != nil {
		return fmt.Errorf("save reconcile run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]application.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT run_id, started_at, finished_at, devices_checked,
		gaps_found, entries_created, reaggregated_days, failed
		FROM %s
		ORDER BY started_at DESC
		LIMIT $1`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconcile runs: %w", err)
	}
	defer rows.Close()

	var out []application.Report
	for rows.Next() {
		var (
			report application.Report
			failed []byte
		)
		if err := rows.Scan(
			&report.RunID, &report.StartedAt, &report.FinishedAt, &report.DevicesChecked,
			&report.GapsFound, &report.EntriesCreated, &report.ReaggregatedDays, &failed,
		); err != nil {
			return nil, fmt.Errorf("list reconcile runs: %w", err)
		}
		if len(failed) > 0 {
			if err := json.Unmarshal(failed, &report.Failed); err != nil {
				return nil, fmt.Errorf("list reconcile runs: failed list: %w", err)
			}
		}
		report.StartedAt = report.StartedAt.UTC()
		report.FinishedAt = report.FinishedAt.UTC()
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reconcile runs: %w", err)
	}
	return out, nil
}
