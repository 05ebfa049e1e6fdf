package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"autovolt-cloud/internal/audit"
	"autovolt-cloud/internal/auth"
	"autovolt-cloud/internal/pricing/application"
	memory "autovolt-cloud/internal/pricing/infrastructure/memory"
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

func newTestHandler(t *testing.T) (*CostVersionHandler, *recordingAudit) {
	t.Helper()
	logger := log.New(testWriter{t}, "", 0)
	service, err := application.NewService(memory.NewCostVersionRepository(), logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	auditLog := &recordingAudit{}
	handler, err := NewCostVersionHandler(service, auditLog, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, auditLog
}

func postVersion(handler *CostVersionHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cost-versions", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "admin@school"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestCreateCostVersion_Returns201AndAudits(t *testing.T) {
	handler, auditLog := newTestHandler(t)

	recorder := postVersion(handler, `{
		"scope": "classroom",
		"classroom": "7A",
		"cost_per_kwh": 8.25,
		"effective_from": "2024-03-01T00:00:00Z",
		"notes": "tariff revision"
	}`)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var got costVersionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID == "" || got.Scope != "classroom" || got.Classroom != "7A" {
		t.Fatalf("version = %+v", got)
	}
	if got.CostPerKWh != 8.25 || got.Currency != "INR" {
		t.Fatalf("price = %v %s", got.CostPerKWh, got.Currency)
	}
	if got.CreatedBy != "admin@school" {
		t.Fatalf("created by = %q", got.CreatedBy)
	}

	if len(auditLog.entries) != 1 {
		t.Fatalf("audit entries = %d", len(auditLog.entries))
	}
	entry := auditLog.entries[0]
	if entry.Action != "pricing.cost_version_create" || entry.Actor != "admin@school" {
		t.Fatalf("audit = %+v", entry)
	}
	if entry.DigestSHA256 == "" {
		t.Fatal("audit digest missing")
	}
}

func TestCreateCostVersion_OverlapIsConflict(t *testing.T) {
	handler, _ := newTestHandler(t)

	first := postVersion(handler, `{
		"scope": "global",
		"cost_per_kwh": 7.5,
		"effective_from": "2024-03-01T00:00:00Z"
	}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	// Earlier than the open version's start: overlaps closed history.
	second := postVersion(handler, `{
		"scope": "global",
		"cost_per_kwh": 8.0,
		"effective_from": "2024-02-01T00:00:00Z"
	}`)
	if second.Code != http.StatusConflict {
		t.Fatalf("second status = %d, body = %s", second.Code, second.Body.String())
	}
}

func TestCreateCostVersion_ValidationErrors(t *testing.T) {
	handler, auditLog := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing effective_from", `{"scope":"global","cost_per_kwh":7.5}`},
		{"bad effective_from", `{"scope":"global","cost_per_kwh":7.5,"effective_from":"March 1"}`},
		{"non-positive price", `{"scope":"global","cost_per_kwh":0,"effective_from":"2024-03-01T00:00:00Z"}`},
		{"classroom on global", `{"scope":"global","classroom":"7A","cost_per_kwh":7.5,"effective_from":"2024-03-01T00:00:00Z"}`},
		{"classroom scope without classroom", `{"scope":"classroom","cost_per_kwh":7.5,"effective_from":"2024-03-01T00:00:00Z"}`},
		{"unknown scope", `{"scope":"district","cost_per_kwh":7.5,"effective_from":"2024-03-01T00:00:00Z"}`},
	}
	for _, tc := range cases {
		recorder := postVersion(handler, tc.body)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.name, recorder.Code)
		}
	}
	if len(auditLog.entries) != 0 {
		t.Fatalf("rejected requests were audited: %d", len(auditLog.entries))
	}
}

func TestCreateCostVersion_ScopeDefaultsFromClassroom(t *testing.T) {
	handler, _ := newTestHandler(t)

	recorder := postVersion(handler, `{
		"classroom": "6B",
		"cost_per_kwh": 9.0,
		"effective_from": "2024-03-01T00:00:00Z"
	}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var got costVersionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Scope != "classroom" {
		t.Fatalf("scope = %q", got.Scope)
	}
}

func TestListCostVersions_FiltersByClassroom(t *testing.T) {
	handler, _ := newTestHandler(t)

	for _, body := range []string{
		`{"scope":"global","cost_per_kwh":7.5,"effective_from":"2024-01-01T00:00:00Z"}`,
		`{"scope":"classroom","classroom":"7A","cost_per_kwh":8.25,"effective_from":"2024-02-01T00:00:00Z"}`,
		`{"scope":"classroom","classroom":"6B","cost_per_kwh":9.0,"effective_from":"2024-02-01T00:00:00Z"}`,
	} {
		if recorder := postVersion(handler, body); recorder.Code != http.StatusCreated {
			t.Fatalf("seed: status = %d, body = %s", recorder.Code, recorder.Body.String())
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/admin/cost-versions?classroom=7A", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var out []costVersionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 7A's own version plus the global history that backs it; 6B excluded.
	if len(out) != 2 {
		t.Fatalf("versions = %+v", out)
	}
	for _, version := range out {
		if version.Classroom == "6B" {
			t.Fatalf("6B leaked into 7A listing: %+v", out)
		}
	}
}

func TestCostVersions_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/cost-versions", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
}
