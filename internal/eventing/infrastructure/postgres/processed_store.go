package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultProcessedTable = "processed_events"

// ProcessedStore records which consumer handled which event. It is the
// consumer-side dedupe backstop for redelivered outbox rows.
type ProcessedStore struct {
	db    *sql.DB
	table string
}

// ProcessedOption configures the store.
type ProcessedOption func(*ProcessedStore)

// WithProcessedTable overrides the table name.
func WithProcessedTable(table string) ProcessedOption {
	return func(s *ProcessedStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewProcessedStore returns a Postgres-backed processed-event store.
func NewProcessedStore(db *sql.DB, opts ...ProcessedOption) *ProcessedStore {
	s := &ProcessedStore{db: db, table: defaultProcessedTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasProcessed reports whether the consumer already handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.guard(eventID, consumerName); err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT 1 FROM %s
		WHERE event_id = $1 AND consumer_name = $2
		LIMIT 1`, s.table)
	var one int
	err := s.db.QueryRowContext(ctx, query, eventID, consumerName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has processed: %w", err)
	}
	return true, nil
}

// MarkProcessed records the (event, consumer) pair. Re-marking is a
// no-op, so a consumer retried past its mark converges.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.guard(eventID, consumerName); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (event_id, consumer_name, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, consumer_name) DO NOTHING`, s.table)
	if _, err := s.db.ExecContext(ctx, query, eventID, consumerName, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *ProcessedStore) guard(eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: empty event id or consumer")
	}
	return nil
}
