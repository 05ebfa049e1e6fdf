package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"autovolt-cloud/internal/audit"
	"autovolt-cloud/internal/auth"
	"autovolt-cloud/internal/pricing/application"
	pricing "autovolt-cloud/internal/pricing/domain"
)

// CostVersionHandler is the admin surface for price history: POST opens
// a new version (closing the current one), GET lists the history.
type CostVersionHandler struct {
	service  *application.Service
	auditLog audit.Logger
	logger   *log.Logger
}

// NewCostVersionHandler constructs the handler.
func NewCostVersionHandler(service *application.Service, auditLog audit.Logger, logger *log.Logger) (*CostVersionHandler, error) {
	if service == nil {
		return nil, errors.New("cost version handler: nil service")
	}
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CostVersionHandler{service: service, auditLog: auditLog, logger: logger}, nil
}

type createVersionRequest struct {
	Scope         string  `json:"scope"`
	Classroom     string  `json:"classroom"`
	CostPerKWh    float64 `json:"cost_per_kwh"`
	Currency      string  `json:"currency"`
	EffectiveFrom string  `json:"effective_from"`
	Notes         string  `json:"notes"`
}

type costVersionResponse struct {
	ID             string     `json:"id"`
	Scope          string     `json:"scope"`
	Classroom      string     `json:"classroom,omitempty"`
	CostPerKWh     float64    `json:"cost_per_kwh"`
	Currency       string     `json:"currency"`
	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toVersionResponse(version pricing.CostVersion) costVersionResponse {
	return costVersionResponse{
		ID:             version.ID,
		Scope:          string(version.Scope),
		Classroom:      version.Classroom,
		CostPerKWh:     version.CostPerKWh,
		Currency:       version.Currency,
		EffectiveFrom:  version.EffectiveFrom,
		EffectiveUntil: version.EffectiveUntil,
		Notes:          version.Notes,
		CreatedBy:      version.CreatedBy,
		CreatedAt:      version.CreatedAt,
	}
}

// ServeHTTP routes the cost-versions admin endpoint.
func (h *CostVersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreate(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CostVersionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.EffectiveFrom == "" {
		http.Error(w, "effective_from is required", http.StatusBadRequest)
		return
	}
	effectiveFrom, err := time.Parse(time.RFC3339, req.EffectiveFrom)
	if err != nil {
		http.Error(w, "effective_from must be RFC3339", http.StatusBadRequest)
		return
	}
	scope := pricing.Scope(req.Scope)
	if req.Scope == "" {
		// Convenience default: a classroom implies classroom scope.
		scope = pricing.ScopeGlobal
		if req.Classroom != "" {
			scope = pricing.ScopeClassroom
		}
	}

	version, err := h.service.CreateVersion(r.Context(), application.CreateVersionInput{
		Scope:         scope,
		Classroom:     req.Classroom,
		CostPerKWh:    req.CostPerKWh,
		Currency:      req.Currency,
		EffectiveFrom: effectiveFrom,
		Notes:         req.Notes,
		CreatedBy:     auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrVersionOverlap):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, pricing.ErrInvalidScope),
			errors.Is(err, pricing.ErrInvalidPrice),
			errors.Is(err, pricing.ErrClassroomRequired),
			errors.Is(err, pricing.ErrClassroomForbidden),
			errors.Is(err, pricing.ErrInvalidEffectiveFrom):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Printf("cost version create: error: %v", err)
			http.Error(w, "create version error", http.StatusInternalServerError)
		}
		return
	}

	h.logAudit(r, version)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toVersionResponse(*version))
}

func (h *CostVersionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	classroom := r.URL.Query().Get("classroom")
	versions, err := h.service.ListVersions(r.Context(), classroom)
	if err != nil {
		h.logger.Printf("cost version list: error: %v", err)
		http.Error(w, "query versions error", http.StatusInternalServerError)
		return
	}
	out := make([]costVersionResponse, 0, len(versions))
	for _, version := range versions {
		out = append(out, toVersionResponse(version))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *CostVersionHandler) logAudit(r *http.Request, version *pricing.CostVersion) {
	details, err := json.Marshal(map[string]any{
		"scope":          string(version.Scope),
		"classroom":      version.Classroom,
		"cost_per_kwh":   version.CostPerKWh,
		"currency":       version.Currency,
		"effective_from": version.EffectiveFrom.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		At:           time.Now().UTC(),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "pricing.cost_version_create",
		Resource:     "cost-version:" + version.ID,
		Details:      details,
		DigestSHA256: audit.DigestJSON(details),
	}
	if err := h.auditLog.Log(r.Context(), entry); err != nil {
		h.logger.Printf("cost version create: audit error: %v", err)
	}
}
