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

const defaultOutboxTable = "event_outbox"

// OutboxStore is the durable leg of event publication: rows are written
// here first, then dispatched to the in-process bus and marked sent.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// OutboxOption configures the store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(s *OutboxStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewOutboxStore returns a Postgres-backed outbox.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	s := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert stores the envelope as a pending row and returns the row id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("outbox insert: %w", err)
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`INSERT INTO %s
		(id, event_id, event_type, payload, status, attempts)
		VALUES ($1, $2, $3, $4, 'pending', 0)
		ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.db.ExecContext(ctx, query, outboxID, env.EventID, env.EventType, payload); err != nil {
		return "", fmt.Errorf("outbox insert: %w", err)
	}
	return outboxID, nil
}

// ListPending returns up to limit pending rows, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, payload FROM %s
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox list pending: %w", err)
	}
	defer rows.Close()

	var pending []eventing.OutboxRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("outbox list pending: %w", err)
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("outbox list pending: %w", err)
		}
		pending = append(pending, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox list pending: %w", err)
	}
	return pending, nil
}

// MarkSent records a successful dispatch.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'sent', sent_at = $1 WHERE id = $2`, s.table)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("outbox mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed dispatch and bumps attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = attempts + 1 WHERE id = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("outbox mark failed: %w", err)
	}
	return nil
}
