package postgres

import (
	"context"
	"testing"
	"time"

	ledger "autovolt-cloud/internal/ledger/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func testEntry(start time.Time) *ledger.Entry {
	power := 40.0
	return &ledger.Entry{
		EntryID:         "e-1",
		DeviceID:        "dev-1",
		SwitchID:        "sw1",
		SwitchName:      "Fan 1",
		Classroom:       "7A",
		StartTS:         start,
		EndTS:           start.Add(30 * time.Minute),
		DurationSeconds: 1800,
		DeltaWh:         20,
		PowerW:          &power,
		SwitchState:     true,
		Method:          ledger.MethodMeasured,
		Confidence:      ledger.ConfidenceHigh,
		CostPerKWh:      7.5,
		CostINR:         0.15,
		Currency:        "INR",
		PriceVersionID:  "v-1",
		CalcRunID:       "run-1",
		CreatedAt:       start.Add(31 * time.Minute),
	}
}

func TestAppend_InsertsEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewEntryRepository(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Append(context.Background(), testEntry(time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_DuplicateKeyIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewEntryRepository(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Append(context.Background(), testEntry(time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestForSwitch_NoHistoryMeansNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewEntryRepository(db)
	require.NoError(t, err)

	mock.ExpectQuery("ORDER BY end_ts DESC LIMIT 1").
		WithArgs("dev-1", "sw1").
		WillReturnRows(sqlmock.NewRows(entryColumnNames()))

	entry, err := repo.LatestForSwitch(context.Background(), "dev-1", "sw1")
	require.NoError(t, err)
	require.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOverlapping_ScansEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewEntryRepository(db)
	require.NoError(t, err)

	start := time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(entryColumnNames()).
		AddRow("e-1", "dev-1", "sw1", "Fan 1", "7A",
			start, start.Add(30*time.Minute), 1800.0, 20.0, 40.0,
			true, "measured", "high", "",
			7.5, 0.15, "INR", "v-1", "run-1", start.Add(31*time.Minute)).
		AddRow("e-2", "dev-1", "sw2", "Light 1", "7A",
			start.Add(time.Hour), start.Add(90*time.Minute), 1800.0, 5.0, nil,
			true, "estimated", "medium", "",
			7.5, 0.0375, "INR", "v-1", "run-1", start.Add(2*time.Hour))

	from := start.Add(-time.Hour)
	to := start.Add(3 * time.Hour)
	mock.ExpectQuery("WHERE classroom = ").
		WithArgs("7A", from, to).
		WillReturnRows(rows)

	entries, err := repo.ListOverlapping(context.Background(), "7A", from, to)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "e-1", entries[0].EntryID)
	require.NotNil(t, entries[0].PowerW)
	require.Equal(t, 40.0, *entries[0].PowerW)
	require.Nil(t, entries[1].PowerW)
	require.Equal(t, ledger.MethodEstimated, entries[1].Method)
	require.NoError(t, mock.ExpectationsWereMet())
}

func entryColumnNames() []string {
	return []string{
		"entry_id", "device_id", "switch_id", "switch_name", "classroom",
		"start_ts", "end_ts", "duration_seconds", "delta_wh", "power_w",
		"switch_state", "method", "confidence", "reason",
		"cost_per_kwh", "cost_inr", "currency", "price_version_id",
		"calc_run_id", "created_at",
	}
}
