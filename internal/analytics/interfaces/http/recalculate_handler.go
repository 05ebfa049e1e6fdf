package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"autovolt-cloud/internal/analytics/application"
	analytics "autovolt-cloud/internal/analytics/domain"
	"autovolt-cloud/internal/audit"
	"autovolt-cloud/internal/auth"
)

// RecalculateHandler triggers a bulk recompute after retroactive
// corrections (price history edits, backfilled telemetry).
type RecalculateHandler struct {
	aggregator *application.Aggregator
	auditLog   audit.Logger
	logger     *log.Logger
}

// NewRecalculateHandler constructs the handler.
func NewRecalculateHandler(aggregator *application.Aggregator, auditLog audit.Logger, logger *log.Logger) (*RecalculateHandler, error) {
	if aggregator == nil {
		return nil, errors.New("recalculate handler: nil aggregator")
	}
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RecalculateHandler{aggregator: aggregator, auditLog: auditLog, logger: logger}, nil
}

type recalculateRequest struct {
	Classroom string `json:"classroom"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// ServeHTTP handles POST /api/v1/admin/recalculate.
func (h *RecalculateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req recalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Classroom == "" || req.From == "" || req.To == "" {
		http.Error(w, "classroom, from and to are required", http.StatusBadRequest)
		return
	}

	result, err := h.aggregator.ReaggregateClassroom(r.Context(), req.Classroom, req.From, req.To)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidDate) || errors.Is(err, analytics.ErrInvalidRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("recalculate: error: %v", err)
		http.Error(w, "recalculate error", http.StatusInternalServerError)
		return
	}

	h.logAudit(r, req, result)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *RecalculateHandler) logAudit(r *http.Request, req recalculateRequest, result application.ReaggregateResult) {
	details, err := json.Marshal(map[string]any{
		"classroom": req.Classroom,
		"from":      req.From,
		"to":        req.To,
		"days":      result.Days,
		"months":    result.Months,
		"failed":    len(result.Failed),
	})
	if err != nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		At:           time.Now().UTC(),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "analytics.recalculate",
		Resource:     "classroom:" + req.Classroom,
		Details:      details,
		DigestSHA256: audit.DigestJSON(details),
	}
	if err := h.auditLog.Log(r.Context(), entry); err != nil {
		h.logger.Printf("recalculate: audit error: %v", err)
	}
}
