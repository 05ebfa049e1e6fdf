package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesEntryVerbatim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	at := time.Date(2026, time.February, 10, 8, 30, 0, 0, time.UTC)
	details := json.RawMessage(`{"classroom":"7A","from":"2026-02-01","to":"2026-02-09"}`)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("audit-1", at, "admin@school", "admin", "analytics.recalculate",
			"classroom:7A", []byte(details), "digest-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Log(context.Background(), Entry{
		ID:           "audit-1",
		At:           at,
		Actor:        "admin@school",
		Role:         "admin",
		Action:       "analytics.recalculate",
		Resource:     "classroom:7A",
		Details:      details,
		DigestSHA256: "digest-1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_FillsIDTimestampAndDigest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	details := json.RawMessage(`{"run_id":"r-1"}`)
	sum := sha256.Sum256(details)
	wantDigest := hex.EncodeToString(sum[:])

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "scheduler", "", "reconcile.run",
			"run:r-1", []byte(details), wantDigest).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Log(context.Background(), Entry{
		Actor:    "scheduler",
		Action:   "reconcile.run",
		Resource: "run:r-1",
		Details:  details,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLog_NilRepositoryErrors(t *testing.T) {
	var repo *Repository
	err := repo.Log(context.Background(), Entry{Action: "x"})
	require.Error(t, err)
}

func TestDigestJSON(t *testing.T) {
	require.Equal(t, "", DigestJSON(nil))

	payload := []byte(`{"a":1}`)
	sum := sha256.Sum256(payload)
	require.Equal(t, hex.EncodeToString(sum[:]), DigestJSON(payload))
}
