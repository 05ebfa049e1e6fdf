package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles reconciliation metrics. Unlike the pipeline-wide
// observability package these are constructed and injected, so tests
// can run the runner without touching the default registry.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	GapsFound      prometheus.Counter
	EntriesCreated prometheus.Counter
	LastRunUnix    prometheus.Gauge
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autovolt_reconcile_runs_total",
				Help: "Total reconcile runs by result",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autovolt_reconcile_run_duration_seconds",
			Help:    "Reconcile run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		GapsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autovolt_reconcile_gaps_found_total",
			Help: "Total heartbeat gaps found",
		}),
		EntriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autovolt_reconcile_entries_created_total",
			Help: "Total gap-fill ledger entries created",
		}),
		LastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autovolt_reconcile_last_run_timestamp",
			Help: "Unix time of the last completed reconcile run",
		}),
	}
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.GapsFound,
		m.EntriesCreated,
		m.LastRunUnix,
	)
	return m
}
