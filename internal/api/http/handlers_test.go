package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	analyticsapp "autovolt-cloud/internal/analytics/application"
	analyticsmem "autovolt-cloud/internal/analytics/infrastructure/memory"
	ledgerapp "autovolt-cloud/internal/ledger/application"
	ledger "autovolt-cloud/internal/ledger/domain"
	ledgermem "autovolt-cloud/internal/ledger/infrastructure/memory"
	pricing "autovolt-cloud/internal/pricing/domain"
	telemetryapp "autovolt-cloud/internal/telemetry/application"
)

type staticPrices struct{}

func (staticPrices) Resolve(context.Context, string, time.Time) (pricing.PriceQuote, error) {
	return pricing.PriceQuote{CostPerKWh: 7.5, Currency: "INR", VersionID: "v-test"}, nil
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newQueryService(t *testing.T) (*analyticsapp.QueryService, *ledgermem.EntryRepository) {
	t.Helper()
	entries := ledgermem.NewEntryRepository()
	dailies := analyticsmem.NewDailyRepository()
	monthlies := analyticsmem.NewMonthlyRepository()
	logger := log.New(testWriter{t}, "", 0)
	aggregator, err := analyticsapp.NewAggregator(entries, dailies, monthlies, staticPrices{}, logger)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	query, err := analyticsapp.NewQueryService(dailies, monthlies, entries, aggregator, nil, logger)
	if err != nil {
		t.Fatalf("new query service: %v", err)
	}
	return query, entries
}

func seedLedgerEntry(t *testing.T, repo *ledgermem.EntryRepository, id string, start, end time.Time, deltaWh float64) {
	t.Helper()
	power := deltaWh / end.Sub(start).Hours()
	entry := &ledger.Entry{
		EntryID:         id,
		DeviceID:        "dev-1",
		SwitchID:        "sw1",
		SwitchName:      "Fan sw1",
		Classroom:       "7A",
		StartTS:         start,
		EndTS:           end,
		DurationSeconds: end.Sub(start).Seconds(),
		DeltaWh:         deltaWh,
		PowerW:          &power,
		SwitchState:     true,
		Method:          ledger.MethodMeasured,
		Confidence:      ledger.ConfidenceHigh,
		CostPerKWh:      7.5,
		CostINR:         deltaWh / 1000 * 7.5,
		Currency:        "INR",
		PriceVersionID:  "v-test",
		CalcRunID:       "run-test",
		CreatedAt:       end,
	}
	appended, err := repo.Append(context.Background(), entry)
	if err != nil {
		t.Fatalf("seed entry %s: %v", id, err)
	}
	if !appended {
		t.Fatalf("seed entry %s: duplicate key", id)
	}
}

func TestDailySummaryHandler_ReturnsSummary(t *testing.T) {
	query, entries := newQueryService(t)
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	seedLedgerEntry(t, entries, "e1", start, start.Add(time.Hour), 60)
	handler := NewDailySummaryHandler(query)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/summary/daily?classroom=7A&date=2024-03-05", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var summary analyticsapp.DailySummary
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.Abs(summary.TotalKWh-0.06) > 1e-9 {
		t.Fatalf("total kwh = %v, want 0.06", summary.TotalKWh)
	}
	if math.Abs(summary.TotalCost-0.45) > 1e-9 {
		t.Fatalf("total cost = %v, want 0.45", summary.TotalCost)
	}
	if len(summary.Devices) != 1 || summary.Devices[0].DeviceID != "dev-1" {
		t.Fatalf("devices = %+v", summary.Devices)
	}
}

func TestDailySummaryHandler_RejectsBadRequests(t *testing.T) {
	query, _ := newQueryService(t)
	handler := NewDailySummaryHandler(query)

	for _, target := range []string{
		"/api/v1/summary/daily?date=2024-03-05",
		"/api/v1/summary/daily?classroom=7A",
		"/api/v1/summary/daily?classroom=7A&date=03/05/2024",
	} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/summary/daily", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", recorder.Code)
	}
}

func TestMonthlySummaryHandler_ReturnsSummary(t *testing.T) {
	query, entries := newQueryService(t)
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	seedLedgerEntry(t, entries, "e1", start, start.Add(time.Hour), 60)
	handler := NewMonthlySummaryHandler(query)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/summary/monthly?classroom=7A&month=2024-03", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var summary analyticsapp.MonthlySummary
	if err := json.Unmarshal(recorder.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if math.Abs(summary.TotalKWh-0.06) > 1e-9 {
		t.Fatalf("total kwh = %v, want 0.06", summary.TotalKWh)
	}
	if len(summary.DailyTotals) != 1 || summary.DailyTotals[0].Date != "2024-03-05" {
		t.Fatalf("daily totals = %+v", summary.DailyTotals)
	}
}

func TestMonthlySummaryHandler_RejectsBadMonth(t *testing.T) {
	query, _ := newQueryService(t)
	handler := NewMonthlySummaryHandler(query)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/summary/monthly?classroom=7A&month=March", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestTimelineHandler_BucketsSeries(t *testing.T) {
	query, entries := newQueryService(t)
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	seedLedgerEntry(t, entries, "e1", start, start.Add(time.Hour), 60)
	handler := NewTimelineHandler(query)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/timeline?classroom=7A&from=2024-03-05T09:00:00Z&to=2024-03-05T10:00:00Z&bucket_minutes=30", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var buckets []analyticsapp.TimelineBucket
	if err := json.Unmarshal(recorder.Body.Bytes(), &buckets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(buckets))
	}
	for i, bucket := range buckets {
		if math.Abs(bucket.EnergyWh-30) > 1e-9 {
			t.Fatalf("bucket %d energy = %v, want 30", i, bucket.EnergyWh)
		}
	}
}

func TestTimelineHandler_RejectsBadArguments(t *testing.T) {
	query, _ := newQueryService(t)
	handler := NewTimelineHandler(query)

	for _, target := range []string{
		"/api/v1/timeline?from=2024-03-05T09:00:00Z&to=2024-03-05T10:00:00Z",
		"/api/v1/timeline?classroom=7A&from=yesterday&to=2024-03-05T10:00:00Z",
		"/api/v1/timeline?classroom=7A&from=2024-03-05T09:00:00Z&to=2024-03-05T10:00:00Z&bucket_minutes=abc",
		"/api/v1/timeline?classroom=7A&from=2024-03-05T09:00:00Z&to=2024-03-05T10:00:00Z&bucket_minutes=-5",
		"/api/v1/timeline?classroom=7A&from=2024-03-05T10:00:00Z&to=2024-03-05T09:00:00Z",
	} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, recorder.Code)
		}
	}
}

func TestLedgerExportHandler_WritesCSV(t *testing.T) {
	_, entries := newQueryService(t)
	start := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	seedLedgerEntry(t, entries, "e1", start, start.Add(time.Hour), 60)
	handler := NewLedgerExportHandler(entries)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/api/v1/ledger/export?classroom=7A&from=2024-03-05T00:00:00Z&to=2024-03-06T00:00:00Z", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if ct := recorder.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}

	rows, err := csv.NewReader(recorder.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	header, row := rows[0], rows[1]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if row[index["entry_id"]] != "e1" {
		t.Fatalf("entry_id = %q", row[index["entry_id"]])
	}
	if row[index["delta_wh"]] != "60" {
		t.Fatalf("delta_wh = %q", row[index["delta_wh"]])
	}
	if row[index["switch_state"]] != "true" {
		t.Fatalf("switch_state = %q", row[index["switch_state"]])
	}
	if row[index["method"]] != "measured" {
		t.Fatalf("method = %q", row[index["method"]])
	}
	if row[index["start_ts"]] != "2024-03-05T09:00:00Z" {
		t.Fatalf("start_ts = %q", row[index["start_ts"]])
	}
}

func TestLedgerExportHandler_RequiresRange(t *testing.T) {
	_, entries := newQueryService(t)
	handler := NewLedgerExportHandler(entries)

	for _, target := range []string{
		"/api/v1/ledger/export?classroom=7A&to=2024-03-06T00:00:00Z",
		"/api/v1/ledger/export?classroom=7A&from=2024-03-05T00:00:00Z",
		"/api/v1/ledger/export?classroom=7A&from=2024-03-06T00:00:00Z&to=2024-03-05T00:00:00Z",
		"/api/v1/ledger/export?from=2024-03-05T00:00:00Z&to=2024-03-06T00:00:00Z",
	} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, recorder.Code)
		}
	}
}

type stubIngestStats struct {
	stats telemetryapp.IngestStats
	err   error
}

func (s stubIngestStats) Stats(context.Context) (telemetryapp.IngestStats, error) {
	return s.stats, s.err
}

type stubAggregationStatus struct{ last time.Time }

func (s stubAggregationStatus) LastRun() time.Time { return s.last }

func TestHealthStatsHandler_ComposesSnapshot(t *testing.T) {
	generator := ledgerapp.NewGeneratorStats()
	generator.IncEntries(3, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	generator.IncReset()
	lastRun := time.Date(2024, 3, 5, 10, 5, 0, 0, time.UTC)
	handler := NewHealthStatsHandler(
		stubIngestStats{stats: telemetryapp.IngestStats{TotalEvents: 42, UnprocessedEvents: 2, OnlineDevices: 7}},
		generator,
		stubAggregationStatus{last: lastRun},
	)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health/stats", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["total_events"].(float64) != 42 {
		t.Fatalf("total_events = %v", got["total_events"])
	}
	if got["ledger_entries_created"].(float64) != 3 {
		t.Fatalf("ledger_entries_created = %v", got["ledger_entries_created"])
	}
	if got["resets_detected"].(float64) != 1 {
		t.Fatalf("resets_detected = %v", got["resets_detected"])
	}
	if got["online_devices"].(float64) != 7 {
		t.Fatalf("online_devices = %v", got["online_devices"])
	}
	if got["last_aggregation_run"] != "2024-03-05T10:05:00Z" {
		t.Fatalf("last_aggregation_run = %v", got["last_aggregation_run"])
	}
}

func TestHealthStatsHandler_StatsErrorIs500(t *testing.T) {
	handler := NewHealthStatsHandler(stubIngestStats{err: errors.New("db down")}, ledgerapp.NewGeneratorStats(), nil)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health/stats", nil))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", recorder.Code)
	}
}
