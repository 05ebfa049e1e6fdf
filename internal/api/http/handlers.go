package apihttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	analyticsapp "autovolt-cloud/internal/analytics/application"
	analytics "autovolt-cloud/internal/analytics/domain"
	ledgerapp "autovolt-cloud/internal/ledger/application"
	ledger "autovolt-cloud/internal/ledger/domain"
	"autovolt-cloud/internal/observability/metrics"
	telemetryapp "autovolt-cloud/internal/telemetry/application"
)

const timeLayout = time.RFC3339

// DailySummaryHandler serves classroom daily summaries.
type DailySummaryHandler struct {
	query *analyticsapp.QueryService
}

// NewDailySummaryHandler constructs a DailySummaryHandler.
func NewDailySummaryHandler(query *analyticsapp.QueryService) *DailySummaryHandler {
	return &DailySummaryHandler{query: query}
}

// ServeHTTP handles GET /api/v1/summary/daily.
func (h *DailySummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	classroom := r.URL.Query().Get("classroom")
	if classroom == "" {
		http.Error(w, "classroom is required", http.StatusBadRequest)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date is required", http.StatusBadRequest)
		return
	}

	summary, err := h.query.GetDailySummary(r.Context(), classroom, date)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidDate) {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		http.Error(w, "query summary error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// MonthlySummaryHandler serves classroom monthly summaries.
type MonthlySummaryHandler struct {
	query *analyticsapp.QueryService
}

// NewMonthlySummaryHandler constructs a MonthlySummaryHandler.
func NewMonthlySummaryHandler(query *analyticsapp.QueryService) *MonthlySummaryHandler {
	return &MonthlySummaryHandler{query: query}
}

// ServeHTTP handles GET /api/v1/summary/monthly.
func (h *MonthlySummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	classroom := r.URL.Query().Get("classroom")
	if classroom == "" {
		http.Error(w, "classroom is required", http.StatusBadRequest)
		return
	}
	month := r.URL.Query().Get("month")
	if month == "" {
		http.Error(w, "month is required", http.StatusBadRequest)
		return
	}

	summary, err := h.query.GetMonthlySummary(r.Context(), classroom, month)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidMonth) {
			http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
			return
		}
		http.Error(w, "query summary error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// TimelineHandler serves time-bucketed classroom series.
type TimelineHandler struct {
	query *analyticsapp.QueryService
}

// NewTimelineHandler constructs a TimelineHandler.
func NewTimelineHandler(query *analyticsapp.QueryService) *TimelineHandler {
	return &TimelineHandler{query: query}
}

// ServeHTTP handles GET /api/v1/timeline.
func (h *TimelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.query == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	classroom := r.URL.Query().Get("classroom")
	if classroom == "" {
		http.Error(w, "classroom is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bucketMinutes := 60
	if raw := r.URL.Query().Get("bucket_minutes"); raw != "" {
		bucketMinutes, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "bucket_minutes must be an integer", http.StatusBadRequest)
			return
		}
	}

	buckets, err := h.query.GetTimeline(r.Context(), classroom, from, to, bucketMinutes)
	if err != nil {
		switch {
		case errors.Is(err, analytics.ErrInvalidBucket):
			http.Error(w, "bucket_minutes must be positive", http.StatusBadRequest)
		case errors.Is(err, analytics.ErrInvalidRange):
			http.Error(w, "to must be after from", http.StatusBadRequest)
		default:
			http.Error(w, "query timeline error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(buckets)
}

// EntryLister reads priced ledger entries overlapping a window.
type EntryLister interface {
	ListOverlapping(ctx context.Context, classroom string, from, to time.Time) ([]ledger.Entry, error)
}

// LedgerExportHandler streams raw ledger rows as CSV for audit.
type LedgerExportHandler struct {
	entries EntryLister
}

// NewLedgerExportHandler constructs a LedgerExportHandler.
func NewLedgerExportHandler(entries EntryLister) *LedgerExportHandler {
	return &LedgerExportHandler{entries: entries}
}

// ServeHTTP handles GET /api/v1/ledger/export.
func (h *LedgerExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.entries == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	classroom := r.URL.Query().Get("classroom")
	if classroom == "" {
		http.Error(w, "classroom is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("csv", result, time.Since(start))
	}()

	rows, err := h.entries.ListOverlapping(r.Context(), classroom, from, to)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "query ledger error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"entry_id",
		"device_id",
		"switch_id",
		"switch_name",
		"classroom",
		"start_ts",
		"end_ts",
		"duration_seconds",
		"delta_wh",
		"power_w",
		"switch_state",
		"method",
		"confidence",
		"reason",
		"cost_per_kwh",
		"cost_inr",
		"currency",
		"price_version_id",
		"calc_run_id",
		"created_at",
	})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.EntryID,
			row.DeviceID,
			row.SwitchID,
			row.SwitchName,
			row.Classroom,
			row.StartTS.Format(timeLayout),
			row.EndTS.Format(timeLayout),
			formatFloat(row.DurationSeconds),
			formatFloat(row.DeltaWh),
			formatFloatPtr(row.PowerW),
			strconv.FormatBool(row.SwitchState),
			row.Method,
			row.Confidence,
			row.Reason,
			formatFloat(row.CostPerKWh),
			formatFloat(row.CostINR),
			row.Currency,
			row.PriceVersionID,
			row.CalcRunID,
			formatTime(row.CreatedAt),
		})
	}
	writer.Flush()
}

// IngestStatsSource reports telemetry intake counters.
type IngestStatsSource interface {
	Stats(ctx context.Context) (telemetryapp.IngestStats, error)
}

// AggregationStatus reports when aggregation last ran.
type AggregationStatus interface {
	LastRun() time.Time
}

// HealthStatsHandler composes the pipeline health snapshot.
type HealthStatsHandler struct {
	ingest      IngestStatsSource
	generator   *ledgerapp.GeneratorStats
	aggregation AggregationStatus
}

// NewHealthStatsHandler constructs a HealthStatsHandler.
func NewHealthStatsHandler(ingest IngestStatsSource, generator *ledgerapp.GeneratorStats, aggregation AggregationStatus) *HealthStatsHandler {
	return &HealthStatsHandler{ingest: ingest, generator: generator, aggregation: aggregation}
}

type healthStats struct {
	telemetryapp.IngestStats
	ledgerapp.StatsSnapshot
	LastAggregationRun *time.Time `json:"last_aggregation_run"`
}

// ServeHTTP handles GET /api/v1/health/stats.
func (h *HealthStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.ingest == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	ingest, err := h.ingest.Stats(r.Context())
	if err != nil {
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	stats := healthStats{
		IngestStats:   ingest,
		StatsSnapshot: h.generator.Snapshot(),
	}
	if h.aggregation != nil {
		if last := h.aggregation.LastRun(); !last.IsZero() {
			utc := last.UTC()
			stats.LastAggregationRun = &utc
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatFloatPtr(value *float64) string {
	if value == nil {
		return ""
	}
	return formatFloat(*value)
}
