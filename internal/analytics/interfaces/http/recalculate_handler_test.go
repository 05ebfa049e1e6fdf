package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autovolt-cloud/internal/analytics/application"
	analyticsmem "autovolt-cloud/internal/analytics/infrastructure/memory"
	"autovolt-cloud/internal/audit"
	"autovolt-cloud/internal/auth"
	ledger "autovolt-cloud/internal/ledger/domain"
	ledgermem "autovolt-cloud/internal/ledger/infrastructure/memory"
	pricing "autovolt-cloud/internal/pricing/domain"
)

type recordingAudit struct{ entries []audit.Entry }

func (a *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

type fakePrices struct{ quote pricing.PriceQuote }

func (f fakePrices) Resolve(_ context.Context, _ string, _ time.Time) (pricing.PriceQuote, error) {
	return f.quote, nil
}

type fixture struct {
	entries    *ledgermem.EntryRepository
	aggregator *application.Aggregator
	query      *application.QueryService
	logger     *log.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	entries := ledgermem.NewEntryRepository()
	dailies := analyticsmem.NewDailyRepository()
	monthlies := analyticsmem.NewMonthlyRepository()
	logger := log.New(testWriter{t}, "", 0)

	aggregator, err := application.NewAggregator(entries, dailies, monthlies,
		fakePrices{quote: pricing.PriceQuote{CostPerKWh: 7.5, Currency: "INR", VersionID: "v-test"}},
		logger)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	query, err := application.NewQueryService(dailies, monthlies, entries, aggregator, nil, logger)
	if err != nil {
		t.Fatalf("new query service: %v", err)
	}
	return &fixture{entries: entries, aggregator: aggregator, query: query, logger: logger}
}

func seedEntry(t *testing.T, fx *fixture, id string, start time.Time, deltaWh float64) {
	t.Helper()
	entry := &ledger.Entry{
		EntryID:         id,
		DeviceID:        "dev-1",
		SwitchID:        "sw1",
		Classroom:       "7A",
		StartTS:         start,
		EndTS:           start.Add(time.Hour),
		DurationSeconds: 3600,
		DeltaWh:         deltaWh,
		SwitchState:     true,
		Method:          ledger.MethodMeasured,
		Confidence:      ledger.ConfidenceHigh,
		CostPerKWh:      7.5,
		CostINR:         deltaWh / 1000 * 7.5,
		Currency:        "INR",
		CreatedAt:       start.Add(time.Hour),
	}
	if created, err := fx.entries.Append(context.Background(), entry); err != nil || !created {
		t.Fatalf("seed entry %s: created=%t err=%v", id, created, err)
	}
}

func postRecalculate(handler *RecalculateHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/recalculate", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "admin@school"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestRecalculate_RunsRangeAndAudits(t *testing.T) {
	fx := newFixture(t)
	auditLog := &recordingAudit{}
	handler, err := NewRecalculateHandler(fx.aggregator, auditLog, fx.logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	seedEntry(t, fx, "e-1", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), 120)
	seedEntry(t, fx, "e-2", time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC), 80)

	recorder := postRecalculate(handler, `{"classroom":"7A","from":"2024-03-05","to":"2024-03-06"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var result application.ReaggregateResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Days != 2 || result.Months != 1 || len(result.Failed) != 0 {
		t.Fatalf("result = %+v", result)
	}

	if len(auditLog.entries) != 1 {
		t.Fatalf("audit entries = %d", len(auditLog.entries))
	}
	entry := auditLog.entries[0]
	if entry.Action != "analytics.recalculate" || entry.Resource != "classroom:7A" {
		t.Fatalf("audit = %+v", entry)
	}
	if entry.Actor != "admin@school" {
		t.Fatalf("actor = %q", entry.Actor)
	}
	if entry.DigestSHA256 == "" {
		t.Fatal("audit digest missing")
	}
}

func TestRecalculate_BadRequests(t *testing.T) {
	fx := newFixture(t)
	auditLog := &recordingAudit{}
	handler, err := NewRecalculateHandler(fx.aggregator, auditLog, fx.logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing classroom", `{"from":"2024-03-05","to":"2024-03-06"}`},
		{"missing from", `{"classroom":"7A","to":"2024-03-06"}`},
		{"missing to", `{"classroom":"7A","from":"2024-03-05"}`},
		{"bad date", `{"classroom":"7A","from":"March 5","to":"2024-03-06"}`},
		{"inverted range", `{"classroom":"7A","from":"2024-03-06","to":"2024-03-05"}`},
	}
	for _, tc := range cases {
		recorder := postRecalculate(handler, tc.body)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, body = %s", tc.name, recorder.Code, recorder.Body.String())
		}
	}
	if len(auditLog.entries) != 0 {
		t.Fatalf("rejected requests were audited: %d", len(auditLog.entries))
	}
}

func TestRecalculate_MethodNotAllowed(t *testing.T) {
	fx := newFixture(t)
	handler, err := NewRecalculateHandler(fx.aggregator, audit.NopLogger{}, fx.logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/admin/recalculate", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
}
