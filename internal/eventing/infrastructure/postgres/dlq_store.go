package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autovolt-cloud/internal/eventing"
)

const defaultDLQTable = "dead_letter_events"

// DLQStore parks envelopes whose dispatch failed, keyed by event id so
// repeated failures of the same event update one row.
type DLQStore struct {
	db    *sql.DB
	table string
}

// DLQOption configures the store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(s *DLQStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewDLQStore returns a Postgres-backed dead-letter store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	s := &DLQStore{db: db, table: defaultDLQTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordFailure upserts the envelope with the latest error, bumping the
// attempt counter on repeats.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(event_id, event_type, payload, error, first_seen_at, last_seen_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $5, 1)
		ON CONFLICT (event_id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			payload = EXCLUDED.payload,
			error = EXCLUDED.error,
			last_seen_at = EXCLUDED.last_seen_at,
			attempts = %s.attempts + 1`, s.table, s.table)

	if _, err := s.db.ExecContext(ctx, query, env.EventID, env.EventType, payload, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
