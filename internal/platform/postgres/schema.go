package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// schemaStatements holds idempotent DDL executed at startup in order.
// Every statement must be safe to re-run against an already-migrated
// database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
	device_id TEXT PRIMARY KEY,
	logical_name TEXT NOT NULL DEFAULT '',
	classroom TEXT NOT NULL DEFAULT '',
	last_seen_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_classroom ON devices (classroom)`,

	`CREATE TABLE IF NOT EXISTS device_switches (
	device_id TEXT NOT NULL,
	switch_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	rated_power_w DOUBLE PRECISION NOT NULL DEFAULT 40,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (device_id, switch_id)
)`,

	`CREATE TABLE IF NOT EXISTS telemetry_records (
	record_id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	logical_name TEXT NOT NULL DEFAULT '',
	classroom TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL,
	kind TEXT NOT NULL,
	energy_wh_counter DOUBLE PRECISION,
	power_w DOUBLE PRECISION,
	switch_states JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'online',
	raw JSONB,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (device_id, ts)
)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_unprocessed ON telemetry_records (processed) WHERE processed = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_device_ts ON telemetry_records (device_id, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_received ON telemetry_records (received_at)`,

	`CREATE TABLE IF NOT EXISTS cost_versions (
	id TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	classroom TEXT NOT NULL DEFAULT '',
	cost_per_kwh DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL DEFAULT 'INR',
	effective_from TIMESTAMPTZ NOT NULL,
	effective_until TIMESTAMPTZ,
	notes TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_cost_versions_scope ON cost_versions (scope, classroom, effective_from DESC)`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
	entry_id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	switch_id TEXT NOT NULL,
	switch_name TEXT NOT NULL DEFAULT '',
	classroom TEXT NOT NULL DEFAULT '',
	start_ts TIMESTAMPTZ NOT NULL,
	end_ts TIMESTAMPTZ NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL,
	delta_wh DOUBLE PRECISION NOT NULL,
	power_w DOUBLE PRECISION,
	switch_state BOOLEAN NOT NULL,
	method TEXT NOT NULL,
	confidence TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	cost_per_kwh DOUBLE PRECISION NOT NULL,
	cost_inr DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL DEFAULT 'INR',
	price_version_id TEXT NOT NULL DEFAULT '',
	calc_run_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (device_id, switch_id, start_ts)
)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_classroom_end ON ledger_entries (classroom, end_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_device_end ON ledger_entries (device_id, switch_id, end_ts DESC)`,

	`CREATE TABLE IF NOT EXISTS daily_aggregates (
	device_id TEXT NOT NULL,
	classroom TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	total_wh DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
	on_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_at_calc_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'INR',
	measured_wh DOUBLE PRECISION NOT NULL DEFAULT 0,
	estimated_wh DOUBLE PRECISION NOT NULL DEFAULT 0,
	entries_high INT NOT NULL DEFAULT 0,
	entries_medium INT NOT NULL DEFAULT 0,
	entries_low INT NOT NULL DEFAULT 0,
	calc_run_id TEXT NOT NULL DEFAULT '',
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (device_id, date)
)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_classroom_date ON daily_aggregates (classroom, date)`,

	`CREATE TABLE IF NOT EXISTS monthly_aggregates (
	device_id TEXT NOT NULL,
	classroom TEXT NOT NULL DEFAULT '',
	month TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	total_wh DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
	on_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_at_calc_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT 'INR',
	daily_totals JSONB NOT NULL DEFAULT '[]',
	calc_run_id TEXT NOT NULL DEFAULT '',
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (device_id, month)
)`,
	`CREATE INDEX IF NOT EXISTS idx_monthly_classroom_month ON monthly_aggregates (classroom, month)`,

	`CREATE TABLE IF NOT EXISTS event_outbox (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON event_outbox (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS processed_events (
	event_id TEXT NOT NULL,
	consumer_name TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, consumer_name)
)`,

	`CREATE TABLE IF NOT EXISTS dead_letter_events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL,
	attempts INT NOT NULL DEFAULT 0
)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource TEXT NOT NULL DEFAULT '',
	details JSONB,
	digest_sha256 TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_logs (at DESC)`,

	`CREATE TABLE IF NOT EXISTS reconcile_runs (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	devices_checked INT NOT NULL DEFAULT 0,
	gaps_found INT NOT NULL DEFAULT 0,
	entries_created INT NOT NULL DEFAULT 0,
	reaggregated_days INT NOT NULL DEFAULT 0,
	failed JSONB NOT NULL DEFAULT '[]'
)`,
}

// EnsureSchema creates all tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("schema: nil db")
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}
