package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"autovolt-cloud/internal/reconcile/application"
)

// RunLister reads back persisted run reports.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]application.Report, error)
}

// Handler triggers reconcile runs on demand and lists past runs.
type Handler struct {
	runner *application.Runner
	runs   RunLister
	logger *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(runner *application.Runner, runs RunLister, logger *log.Logger) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("reconcile handler: nil runner")
	}
	if runs == nil {
		return nil, errors.New("reconcile handler: nil run lister")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{runner: runner, runs: runs, logger: logger}, nil
}

// ServeHTTP routes the reconcile admin endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleRun(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Printf("event=reconcile_trigger_error error=%q", err)
		http.Error(w, "reconcile run failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	reports, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Printf("event=reconcile_list_error error=%q", err)
		http.Error(w, "query runs error", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []application.Report{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reports)
}
