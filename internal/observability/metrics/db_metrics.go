package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// registerDBMetrics exposes queue depths the pipeline cannot observe
// from counters alone: the outbox and DLQ backlogs and how far the
// ledger is behind the stored telemetry.
func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	gauges := []struct {
		name  string
		help  string
		query string
	}{
		{
			name:  metricPrefix + "event_outbox_pending",
			help:  "Outbox rows awaiting dispatch",
			query: "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'",
		},
		{
			name:  metricPrefix + "event_dlq_count",
			help:  "Dead-lettered events",
			query: "SELECT COUNT(*) FROM dead_letter_events",
		},
		{
			name:  metricPrefix + "telemetry_unprocessed",
			help:  "Telemetry records awaiting ledger processing",
			query: "SELECT COUNT(*) FROM telemetry_records WHERE processed = FALSE",
		},
	}
	for _, g := range gauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return countRows(db, logger, query) },
		))
	}
}

func countRows(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
