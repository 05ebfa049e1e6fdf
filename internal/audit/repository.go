package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const insertEntrySQL = `INSERT INTO audit_logs
	(id, at, actor, role, action, resource, details, digest_sha256)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Repository appends audit entries to the audit_logs table. Rows are
// never updated or deleted through this type.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a Postgres-backed audit trail, or nil when db
// is nil so callers can fall through to NopLogger.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log fills in the entry's id, timestamp and details digest when the
// caller left them empty, then appends the row.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	stamp(&entry)
	_, err := r.db.ExecContext(ctx, insertEntrySQL,
		entry.ID, entry.At.UTC(), entry.Actor, entry.Role,
		entry.Action, entry.Resource, entry.Details, entry.DigestSHA256)
	return err
}

func stamp(entry *Entry) {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.DigestSHA256 == "" {
		entry.DigestSHA256 = DigestJSON(entry.Details)
	}
}
