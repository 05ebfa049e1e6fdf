package http

import (
	"errors"
	"log"
	"net/http"
	"time"

	"autovolt-cloud/internal/analytics/application"
	analytics "autovolt-cloud/internal/analytics/domain"
	"autovolt-cloud/internal/observability/metrics"
)

// MonthlyReportHandler serves rendered monthly reports (xlsx or pdf).
type MonthlyReportHandler struct {
	query  *application.QueryService
	logger *log.Logger
}

// NewMonthlyReportHandler constructs the handler.
func NewMonthlyReportHandler(query *application.QueryService, logger *log.Logger) (*MonthlyReportHandler, error) {
	if query == nil {
		return nil, errors.New("monthly report handler: nil query service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MonthlyReportHandler{query: query, logger: logger}, nil
}

// ServeHTTP renders GET /api/v1/reports/monthly?classroom=&month=&format=.
func (h *MonthlyReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	classroom := r.URL.Query().Get("classroom")
	month := r.URL.Query().Get("month")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	if classroom == "" || month == "" {
		http.Error(w, "classroom and month are required", http.StatusBadRequest)
		return
	}
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport(format, result, time.Since(start))
	}()

	summary, err := h.query.GetMonthlySummary(r.Context(), classroom, month)
	if err != nil {
		result = metrics.ResultError
		if errors.Is(err, analytics.ErrInvalidMonth) {
			http.Error(w, "invalid month", http.StatusBadRequest)
			return
		}
		h.logger.Printf("monthly report: summary error: %v", err)
		http.Error(w, "report error", http.StatusInternalServerError)
		return
	}

	var data []byte
	switch format {
	case "pdf":
		data, err = BuildMonthlyReportPDF(summary)
		w.Header().Set("Content-Type", "application/pdf")
	default:
		data, err = BuildMonthlyReportXLSX(summary)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	if err != nil {
		result = metrics.ResultError
		h.logger.Printf("monthly report: render error: %v", err)
		http.Error(w, "report error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
