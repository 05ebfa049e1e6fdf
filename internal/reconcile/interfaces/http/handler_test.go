package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	devices "autovolt-cloud/internal/devices/domain"
	ledgermem "autovolt-cloud/internal/ledger/infrastructure/memory"
	pricing "autovolt-cloud/internal/pricing/domain"
	"autovolt-cloud/internal/reconcile/application"
	telemetry "autovolt-cloud/internal/telemetry/domain"
)

type stubDevices struct{ list []devices.Device }

func (s stubDevices) List(context.Context) ([]devices.Device, error) { return s.list, nil }

type stubRecords struct{ rec *telemetry.Record }

func (s stubRecords) LatestForDevice(context.Context, string) (*telemetry.Record, error) {
	return s.rec, nil
}

type stubRegistry struct{}

func (stubRegistry) RatedPower(context.Context, string, string) (float64, string, error) {
	return 40, "Fan sw1", nil
}

type stubPrices struct{}

func (stubPrices) Resolve(context.Context, string, time.Time) (pricing.PriceQuote, error) {
	return pricing.PriceQuote{CostPerKWh: 7.5, Currency: "INR", VersionID: "v-test"}, nil
}

type stubReaggregator struct{}

func (stubReaggregator) AggregateDay(context.Context, string, string) (int, error) {
	return 1, nil
}

func (stubReaggregator) AggregateMonth(context.Context, string, string) (int, error) {
	return 1, nil
}

type stubRunStore struct{ saved int }

func (s *stubRunStore) SaveRun(context.Context, *application.Report) error {
	s.saved++
	return nil
}

type stubLister struct {
	reports []application.Report
	err     error
	limit   int
}

func (s *stubLister) ListRuns(_ context.Context, limit int) ([]application.Report, error) {
	s.limit = limit
	return s.reports, s.err
}

var errDown = errors.New("store down")

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestHandler(t *testing.T, source stubDevices, rec *telemetry.Record, lister RunLister) *Handler {
	t.Helper()
	cfg := application.Config{
		Defaults: application.Thresholds{
			GapThreshold: application.Duration(3 * time.Minute),
			MaxFill:      application.Duration(24 * time.Hour),
			MinFill:      application.Duration(time.Minute),
		},
	}
	logger := log.New(testWriter{t}, "", 0)
	runner, err := application.NewRunner(cfg, source, stubRecords{rec: rec}, stubRegistry{},
		ledgermem.NewEntryRepository(), stubPrices{}, stubReaggregator{}, &stubRunStore{}, logger)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	handler, err := NewHandler(runner, lister, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestServeHTTP_PostTriggersRun(t *testing.T) {
	seen := time.Now().UTC().Add(-2 * time.Hour)
	source := stubDevices{list: []devices.Device{
		{ID: "dev-1", Classroom: "7A", LastSeenAt: &seen},
	}}
	rec := &telemetry.Record{
		RecordID:   "r1",
		DeviceID:   "dev-1",
		Classroom:  "7A",
		TS:         seen,
		Reading:    telemetry.Estimated{SwitchStates: map[string]bool{"sw1": true}},
		ReceivedAt: seen,
	}
	handler := newTestHandler(t, source, rec, &stubLister{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/admin/reconcile", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var report application.Report
	if err := json.Unmarshal(recorder.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(report.RunID, "rec-") {
		t.Fatalf("run id = %q", report.RunID)
	}
	if report.DevicesChecked != 1 || report.GapsFound != 1 || report.EntriesCreated != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestServeHTTP_GetListsRuns(t *testing.T) {
	lister := &stubLister{reports: []application.Report{
		{RunID: "rec-2"},
		{RunID: "rec-1"},
	}}
	handler := newTestHandler(t, stubDevices{}, nil, lister)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconcile", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if lister.limit != 20 {
		t.Fatalf("limit = %d, want default 20", lister.limit)
	}
	var out []application.Report
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].RunID != "rec-2" {
		t.Fatalf("out = %+v", out)
	}
}

func TestServeHTTP_GetHonorsLimit(t *testing.T) {
	lister := &stubLister{}
	handler := newTestHandler(t, stubDevices{}, nil, lister)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconcile?limit=5", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if lister.limit != 5 {
		t.Fatalf("limit = %d", lister.limit)
	}
	// An empty store still answers with a JSON array.
	if body := strings.TrimSpace(recorder.Body.String()); body != "[]" {
		t.Fatalf("body = %q", body)
	}
}

func TestServeHTTP_BadLimitRejected(t *testing.T) {
	handler := newTestHandler(t, stubDevices{}, nil, &stubLister{})
	for _, limit := range []string{"abc", "-1", "0"} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconcile?limit="+limit, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: status = %d", limit, recorder.Code)
		}
	}
}

func TestServeHTTP_ListFailureIs500(t *testing.T) {
	handler := newTestHandler(t, stubDevices{}, nil, &stubLister{err: errDown})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/admin/reconcile", nil))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, stubDevices{}, nil, &stubLister{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPut, "/api/v1/admin/reconcile", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
}
