package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "autovolt_"

	resultSuccess = "success"
	resultError   = "error"

	cacheHit  = "hit"
	cacheMiss = "miss"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec

	ledgerEntriesTotal *prometheus.CounterVec
	ledgerResetsTotal  prometheus.Counter

	aggregateDayTotal     *prometheus.CounterVec
	aggregateDayLatency   *prometheus.HistogramVec
	aggregateMonthTotal   *prometheus.CounterVec
	aggregateMonthLatency *prometheus.HistogramVec
	reaggregateTotal      *prometheus.CounterVec
	reaggregateLatency    *prometheus.HistogramVec

	summaryQueryTotal *prometheus.CounterVec
	summaryCacheTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox records dispatched by outcome",
			},
			[]string{"outcome"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch sweep latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		ledgerEntriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_entries_total",
				Help: "Total ledger entries written by method",
			},
			[]string{"method"},
		)
		ledgerResetsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_counter_resets_total",
				Help: "Total detected cumulative counter resets",
			},
		)

		aggregateDayTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregate_day_total",
				Help: "Total daily aggregation runs by result",
			},
			[]string{"result"},
		)
		aggregateDayLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregate_day_latency_seconds",
				Help:    "Daily aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		aggregateMonthTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregate_month_total",
				Help: "Total monthly aggregation runs by result",
			},
			[]string{"result"},
		)
		aggregateMonthLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregate_month_latency_seconds",
				Help:    "Monthly aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		reaggregateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reaggregate_total",
				Help: "Total re-aggregation runs by result",
			},
			[]string{"result"},
		)
		reaggregateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reaggregate_latency_seconds",
				Help:    "Re-aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		summaryQueryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "summary_query_total",
				Help: "Total summary queries by kind and result",
			},
			[]string{"kind", "result"},
		)
		summaryCacheTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "summary_cache_total",
				Help: "Summary cache lookups by kind and outcome",
			},
			[]string{"kind", "outcome"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			outboxDispatchTotal,
			outboxDispatchLatency,
			ledgerEntriesTotal,
			ledgerResetsTotal,
			aggregateDayTotal,
			aggregateDayLatency,
			aggregateMonthTotal,
			aggregateMonthLatency,
			reaggregateTotal,
			reaggregateLatency,
			summaryQueryTotal,
			summaryCacheTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

var openIntervalsOnce sync.Once

// RegisterOpenIntervals exposes the ledger generator's in-memory open
// interval count as a gauge. Call once the generator exists.
func RegisterOpenIntervals(count func() int) {
	if count == nil {
		return
	}
	openIntervalsOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ledger_open_intervals",
				Help: "Open ledger intervals held in memory",
			},
			func() float64 { return float64(count()) },
		))
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveOutboxDispatch records one dispatch sweep: its latency plus
// how many records it sent, failed, and dead-lettered.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxDispatchTotal == nil {
		return
	}
	if sent > 0 {
		outboxDispatchTotal.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		outboxDispatchTotal.WithLabelValues("failed").Add(float64(failed))
	}
	if dlq > 0 {
		outboxDispatchTotal.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// IncLedgerEntries adds written ledger entries for a method.
func IncLedgerEntries(method string, count int) {
	if count <= 0 {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if ledgerEntriesTotal != nil {
		ledgerEntriesTotal.WithLabelValues(method).Add(float64(count))
	}
}

// IncCounterReset increments the detected counter reset total.
func IncCounterReset() {
	if ledgerResetsTotal != nil {
		ledgerResetsTotal.Inc()
	}
}

// ObserveAggregateDay records daily aggregation latency and result.
func ObserveAggregateDay(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if aggregateDayTotal != nil {
		aggregateDayTotal.WithLabelValues(result).Inc()
	}
	if aggregateDayLatency != nil {
		aggregateDayLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveAggregateMonth records monthly aggregation latency and result.
func ObserveAggregateMonth(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if aggregateMonthTotal != nil {
		aggregateMonthTotal.WithLabelValues(result).Inc()
	}
	if aggregateMonthLatency != nil {
		aggregateMonthLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveReaggregate records bulk re-aggregation latency and result.
func ObserveReaggregate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if reaggregateTotal != nil {
		reaggregateTotal.WithLabelValues(result).Inc()
	}
	if reaggregateLatency != nil {
		reaggregateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSummaryQuery increments the summary query counter.
func IncSummaryQuery(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if summaryQueryTotal != nil {
		summaryQueryTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncSummaryCacheHit increments the cache hit counter for a summary kind.
func IncSummaryCacheHit(kind string) {
	if summaryCacheTotal != nil {
		summaryCacheTotal.WithLabelValues(kind, cacheHit).Inc()
	}
}

// IncSummaryCacheMiss increments the cache miss counter for a summary kind.
func IncSummaryCacheMiss(kind string) {
	if summaryCacheTotal != nil {
		summaryCacheTotal.WithLabelValues(kind, cacheMiss).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError
)
