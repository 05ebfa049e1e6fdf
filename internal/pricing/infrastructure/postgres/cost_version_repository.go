package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pricing "autovolt-cloud/internal/pricing/domain"
)

const defaultCostVersionsTable = "cost_versions"

// CostVersionRepository is a Postgres implementation for cost versions.
type CostVersionRepository struct {
	db    *sql.DB
	table string
}

// NewCostVersionRepository constructs a repository.
func NewCostVersionRepository(db *sql.DB, opts ...CostVersionOption) *CostVersionRepository {
	repo := &CostVersionRepository{db: db, table: defaultCostVersionsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CostVersionOption configures the repository.
type CostVersionOption func(*CostVersionRepository)

// WithCostVersionTable overrides the table name.
func WithCostVersionTable(table string) CostVersionOption {
	return func(repo *CostVersionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// FindActive returns the version containing ts for the scope target, lock-free.
func (r *CostVersionRepository) FindActive(ctx context.Context, scope pricing.Scope, classroom string, ts time.Time) (*pricing.CostVersion, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cost version repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, scope, classroom, cost_per_kwh, currency, effective_from, effective_until, notes, created_by, created_at
FROM %s
WHERE scope = $1
	AND classroom = $2
	AND effective_from <= $3
	AND (effective_until IS NULL OR effective_until > $3)
ORDER BY effective_from DESC
LIMIT 1`, r.table)

	row := r.db.QueryRowContext(ctx, query, string(scope), classroom, ts.UTC())
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return version, nil
}

// Create runs the compare-and-close transaction: lock the open version of the
// same scope target, reject overlaps, close it at the new effective_from and
// insert the new open version.
func (r *CostVersionRepository) Create(ctx context.Context, version *pricing.CostVersion) error {
	if r == nil || r.db == nil {
		return errors.New("cost version repo: nil db")
	}
	if version == nil {
		return pricing.ErrNilVersion
	}
	if err := version.Validate(); err != nil {
		return err
	}
	newFrom := version.EffectiveFrom.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	lockQuery := fmt.Sprintf(`
SELECT id, effective_from
FROM %s
WHERE scope = $1 AND classroom = $2 AND effective_until IS NULL
FOR UPDATE`, r.table)

	var openID string
	var openFrom time.Time
	hasOpen := true
	if err := tx.QueryRowContext(ctx, lockQuery, string(version.Scope), version.Classroom).Scan(&openID, &openFrom); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		hasOpen = false
	}
	if hasOpen && !openFrom.UTC().Before(newFrom) {
		return pricing.ErrVersionOverlap
	}

	closedOverlapQuery := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s
	WHERE scope = $1 AND classroom = $2 AND effective_until IS NOT NULL AND effective_until > $3
)`, r.table)

	var overlapsClosed bool
	if err := tx.QueryRowContext(ctx, closedOverlapQuery, string(version.Scope), version.Classroom, newFrom).Scan(&overlapsClosed); err != nil {
		return err
	}
	if overlapsClosed {
		return pricing.ErrVersionOverlap
	}

	if hasOpen {
		closeQuery := fmt.Sprintf(`UPDATE %s SET effective_until = $1 WHERE id = $2`, r.table)
		if _, err := tx.ExecContext(ctx, closeQuery, newFrom, openID); err != nil {
			return err
		}
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	id, scope, classroom, cost_per_kwh, currency, effective_from, effective_until, notes, created_by, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, NULL, $7, $8, $9
)`, r.table)

	createdAt := version.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, insertQuery,
		version.ID,
		string(version.Scope),
		version.Classroom,
		version.CostPerKWh,
		version.Currency,
		newFrom,
		version.Notes,
		version.CreatedBy,
		createdAt.UTC(),
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	version.EffectiveFrom = newFrom
	version.CreatedAt = createdAt.UTC()
	return nil
}

// List returns versions for the admin surface, newest first.
func (r *CostVersionRepository) List(ctx context.Context, classroom string) ([]pricing.CostVersion, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("cost version repo: nil db")
	}

	var query string
	var args []any
	if classroom == "" {
		query = fmt.Sprintf(`
SELECT id, scope, classroom, cost_per_kwh, currency, effective_from, effective_until, notes, created_by, created_at
FROM %s
ORDER BY scope ASC, classroom ASC, effective_from DESC`, r.table)
	} else {
		query = fmt.Sprintf(`
SELECT id, scope, classroom, cost_per_kwh, currency, effective_from, effective_until, notes, created_by, created_at
FROM %s
WHERE classroom = $1 OR scope = 'global'
ORDER BY scope ASC, effective_from DESC`, r.table)
		args = append(args, classroom)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pricing.CostVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *version)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*pricing.CostVersion, error) {
	var version pricing.CostVersion
	var scope string
	var until sql.NullTime
	if err := row.Scan(
		&version.ID,
		&scope,
		&version.Classroom,
		&version.CostPerKWh,
		&version.Currency,
		&version.EffectiveFrom,
		&until,
		&version.Notes,
		&version.CreatedBy,
		&version.CreatedAt,
	); err != nil {
		return nil, err
	}
	version.Scope = pricing.Scope(scope)
	version.EffectiveFrom = version.EffectiveFrom.UTC()
	version.CreatedAt = version.CreatedAt.UTC()
	if until.Valid {
		t := until.Time.UTC()
		version.EffectiveUntil = &t
	}
	return &version, nil
}
