package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	analytics "autovolt-cloud/internal/analytics/domain"
)

func TestMonthlyUpsert_MarshalsDailyTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewMonthlyRepository(db)
	require.NoError(t, err)

	agg := &analytics.MonthlyAggregate{
		DeviceID:       "dev-1",
		Classroom:      "7A",
		Month:          "2024-03",
		Timezone:       "Asia/Kolkata",
		TotalWh:        300,
		TotalKWh:       0.3,
		OnTimeSec:      5400,
		CostAtCalcTime: 2.25,
		Currency:       "INR",
		DailyTotals: []analytics.DailyTotal{
			{Date: "2024-03-05", TotalWh: 100, Cost: 0.75},
			{Date: "2024-03-06", TotalWh: 200, Cost: 1.5},
		},
		CalcRunID:    "run-1",
		CalculatedAt: time.Date(2024, 4, 1, 0, 35, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO monthly_aggregates").
		WithArgs(
			agg.DeviceID, agg.Classroom, agg.Month, agg.Timezone,
			agg.TotalWh, agg.TotalKWh, agg.OnTimeSec, agg.CostAtCalcTime, agg.Currency,
			[]byte(`[{"date":"2024-03-05","total_wh":100,"cost":0.75},{"date":"2024-03-06","total_wh":200,"cost":1.5}]`),
			agg.CalcRunID, agg.CalculatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), agg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonthlyList_UnmarshalsDailyTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo, err := NewMonthlyRepository(db)
	require.NoError(t, err)

	columns := []string{
		"device_id", "classroom", "month", "timezone",
		"total_wh", "total_kwh", "on_time_sec", "cost_at_calc_time", "currency",
		"daily_totals", "calc_run_id", "calculated_at",
	}
	rows := sqlmock.NewRows(columns).
		AddRow("dev-1", "7A", "2024-03", "Asia/Kolkata",
			300.0, 0.3, 5400.0, 2.25, "INR",
			[]byte(`[{"date":"2024-03-05","total_wh":100,"cost":0.75}]`),
			"run-1", time.Date(2024, 4, 1, 0, 35, 0, 0, time.UTC))

	mock.ExpectQuery("SELECT (.+) FROM monthly_aggregates").
		WithArgs("7A", "2024-03").
		WillReturnRows(rows)

	out, err := repo.ListByClassroomMonth(context.Background(), "7A", "2024-03")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].DailyTotals, 1)
	require.Equal(t, "2024-03-05", out[0].DailyTotals[0].Date)
	require.Equal(t, 100.0, out[0].DailyTotals[0].TotalWh)
	require.NoError(t, mock.ExpectationsWereMet())
}
