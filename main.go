package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	analyticsapp "autovolt-cloud/internal/analytics/application"
	analyticsrepo "autovolt-cloud/internal/analytics/infrastructure/postgres"
	analyticsredis "autovolt-cloud/internal/analytics/infrastructure/redis"
	analyticsinterfaces "autovolt-cloud/internal/analytics/interfaces"
	analyticshttp "autovolt-cloud/internal/analytics/interfaces/http"
	apihttp "autovolt-cloud/internal/api/http"
	"autovolt-cloud/internal/audit"
	"autovolt-cloud/internal/auth"
	devicesapp "autovolt-cloud/internal/devices/application"
	devicesrepo "autovolt-cloud/internal/devices/infrastructure/postgres"
	"autovolt-cloud/internal/eventing"
	"autovolt-cloud/internal/eventing/eventbus"
	eventingrepo "autovolt-cloud/internal/eventing/infrastructure/postgres"
	ledgerapp "autovolt-cloud/internal/ledger/application"
	ledgerevents "autovolt-cloud/internal/ledger/application/events"
	ledgerrepo "autovolt-cloud/internal/ledger/infrastructure/postgres"
	ledgerinterfaces "autovolt-cloud/internal/ledger/interfaces"
	"autovolt-cloud/internal/observability/metrics"
	platformpostgres "autovolt-cloud/internal/platform/postgres"
	pricingapp "autovolt-cloud/internal/pricing/application"
	pricingrepo "autovolt-cloud/internal/pricing/infrastructure/postgres"
	pricinghttp "autovolt-cloud/internal/pricing/interfaces/http"
	reconcileapp "autovolt-cloud/internal/reconcile/application"
	reconcilerepo "autovolt-cloud/internal/reconcile/infrastructure/postgres"
	reconcilehttp "autovolt-cloud/internal/reconcile/interfaces/http"
	reconcilemetrics "autovolt-cloud/internal/reconcile/metrics"
	reconcilenotify "autovolt-cloud/internal/reconcile/notify"
	telemetryapp "autovolt-cloud/internal/telemetry/application"
	telemetryevents "autovolt-cloud/internal/telemetry/application/events"
	telemetrypostgres "autovolt-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "autovolt-cloud/internal/telemetry/interfaces/http"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	loc, err := time.LoadLocation(cfg.FacilityTimezone)
	if err != nil {
		logger.Fatalf("facility timezone error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}
	if err := platformpostgres.EnsureSchema(context.Background(), db); err != nil {
		logger.Fatalf("db schema error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(telemetryevents.TelemetryReceived{})
	registry.Register(ledgerevents.LedgerEntryRecorded{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	deviceRepo := devicesrepo.NewDeviceRepository(db)
	registryService, err := devicesapp.NewRegistryService(deviceRepo, logger,
		devicesapp.WithDefaultRatedPower(cfg.DefaultRatedPowerW),
		devicesapp.WithHeartbeatWindow(cfg.HeartbeatWindow),
	)
	if err != nil {
		logger.Fatalf("device registry error: %v", err)
	}

	costVersionRepo := pricingrepo.NewCostVersionRepository(db)
	pricingService, err := pricingapp.NewService(costVersionRepo, logger,
		pricingapp.WithDefaultPrice(cfg.DefaultCostPerKWh, cfg.Currency))
	if err != nil {
		logger.Fatalf("pricing service error: %v", err)
	}

	recordRepo := telemetrypostgres.NewRecordRepository(db)
	ingestService, err := telemetryapp.NewIngestService(recordRepo, registryService, publisher, logger)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	entryRepo, err := ledgerrepo.NewEntryRepository(db)
	if err != nil {
		logger.Fatalf("entry repository error: %v", err)
	}
	generatorStats := ledgerapp.NewGeneratorStats()
	generator, err := ledgerapp.NewGenerator(entryRepo, ingestService, registryService, pricingService, publisher, generatorStats, logger,
		ledgerapp.WithFlushInterval(cfg.FlushInterval),
		ledgerapp.WithTimezone(loc),
	)
	if err != nil {
		logger.Fatalf("ledger generator error: %v", err)
	}
	ledgerConsumer, err := ledgerinterfaces.NewTelemetryReceivedConsumer(generator, ingestService, logger)
	if err != nil {
		logger.Fatalf("ledger consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[telemetryevents.TelemetryReceived](), "ledger.telemetry", ledgerConsumer.HandleTelemetryReceived, processedStore)
	metrics.RegisterOpenIntervals(generator.OpenIntervals)
	go generator.RunFlushLoop(context.Background())

	dailyRepo, err := analyticsrepo.NewDailyRepository(db)
	if err != nil {
		logger.Fatalf("daily repository error: %v", err)
	}
	monthlyRepo, err := analyticsrepo.NewMonthlyRepository(db)
	if err != nil {
		logger.Fatalf("monthly repository error: %v", err)
	}

	var summaryCache analyticsapp.SummaryCache
	aggregatorOpts := []analyticsapp.AggregatorOption{
		analyticsapp.WithGrace(cfg.AggregationGrace),
		analyticsapp.WithLocation(loc),
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache, err := analyticsredis.NewSummaryCache(redisClient, analyticsredis.WithTTL(cfg.CacheTTL))
		if err != nil {
			logger.Fatalf("summary cache error: %v", err)
		}
		summaryCache = cache
		aggregatorOpts = append(aggregatorOpts, analyticsapp.WithInvalidator(cache))
	}
	aggregator, err := analyticsapp.NewAggregator(entryRepo, dailyRepo, monthlyRepo, pricingService, logger, aggregatorOpts...)
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}
	tracker := analyticsapp.NewTracker()
	analyticsConsumer, err := analyticsinterfaces.NewLedgerEntryRecordedConsumer(tracker, summaryCache, logger)
	if err != nil {
		logger.Fatalf("analytics consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[ledgerevents.LedgerEntryRecorded](), "analytics.dirty", analyticsConsumer.HandleLedgerEntryRecorded, processedStore)

	aggScheduler, err := analyticsapp.NewScheduler(aggregator, tracker, registryService, cfg.AggregationInterval, cfg.AggregationDailyAt, logger)
	if err != nil {
		logger.Fatalf("aggregation scheduler error: %v", err)
	}
	go aggScheduler.Start(context.Background())

	queryService, err := analyticsapp.NewQueryService(dailyRepo, monthlyRepo, entryRepo, aggregator, summaryCache, logger)
	if err != nil {
		logger.Fatalf("query service error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(cfg.OutboxDispatchEvery)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), 64); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	reconcileCfg, err := reconcileapp.LoadConfig()
	if err != nil {
		logger.Fatalf("reconcile config error: %v", err)
	}
	runRepo, err := reconcilerepo.NewRunRepository(db)
	if err != nil {
		logger.Fatalf("run repository error: %v", err)
	}
	reconcileOpts := []reconcileapp.RunnerOption{
		reconcileapp.WithRunnerMetrics(reconcilemetrics.New()),
		reconcileapp.WithAuditLogger(auditRepo),
		reconcileapp.WithRunnerTimezone(loc),
	}
	if reconcileCfg.WebhookURL != "" {
		reconcileOpts = append(reconcileOpts, reconcileapp.WithNotifier(reconcilenotify.NewWebhookNotifier(reconcileCfg.WebhookURL)))
	}
	reconcileRunner, err := reconcileapp.NewRunner(reconcileCfg, registryService, ingestService, registryService, entryRepo, pricingService, aggregator, runRepo, logger, reconcileOpts...)
	if err != nil {
		logger.Fatalf("reconcile runner error: %v", err)
	}
	reconcileHandler, err := reconcilehttp.NewHandler(reconcileRunner, runRepo, logger)
	if err != nil {
		logger.Fatalf("reconcile handler error: %v", err)
	}
	reconcileScheduler := reconcileapp.NewScheduler(reconcileRunner, reconcileCfg.Schedule.DailyAt, loc, logger)
	go reconcileScheduler.Start(context.Background())

	costVersionHandler, err := pricinghttp.NewCostVersionHandler(pricingService, auditRepo, logger)
	if err != nil {
		logger.Fatalf("cost version handler error: %v", err)
	}
	recalcHandler, err := analyticshttp.NewRecalculateHandler(aggregator, auditRepo, logger)
	if err != nil {
		logger.Fatalf("recalculate handler error: %v", err)
	}
	reportHandler, err := analyticshttp.NewMonthlyReportHandler(queryService, logger)
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}

	var ingestRoute http.Handler = ingestHandler
	if cfg.IngestSecret != "" {
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)
		ingestRoute = ingestAuth.Wrap(ingestHandler)
	} else {
		logger.Printf("ingest signature check disabled: INGEST_HMAC_SECRET not set")
	}

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestRoute)
	mux.Handle("/api/v1/admin/cost-versions", costVersionHandler)
	mux.Handle("/api/v1/admin/recalculate", recalcHandler)
	mux.Handle("/api/v1/admin/reconcile", reconcileHandler)
	mux.Handle("/api/v1/summary/daily", apihttp.NewDailySummaryHandler(queryService))
	mux.Handle("/api/v1/summary/monthly", apihttp.NewMonthlySummaryHandler(queryService))
	mux.Handle("/api/v1/timeline", apihttp.NewTimelineHandler(queryService))
	mux.Handle("/api/v1/ledger/export", apihttp.NewLedgerExportHandler(entryRepo))
	mux.Handle("/api/v1/reports/monthly", reportHandler)
	mux.Handle("/api/v1/health/stats", apihttp.NewHealthStatsHandler(ingestService, generatorStats, aggregator))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
		handler = auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap(mux)
	} else {
		logger.Printf("api auth disabled: AUTH_JWT_SECRET not set")
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(handler, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	RedisAddr           string
	CacheTTL            time.Duration
	FacilityTimezone    string
	DefaultCostPerKWh   float64
	Currency            string
	DefaultRatedPowerW  float64
	HeartbeatWindow     time.Duration
	FlushInterval       time.Duration
	AggregationGrace    time.Duration
	AggregationInterval time.Duration
	AggregationDailyAt  string
	OutboxDispatchEvery time.Duration
	JWTSecret           string
	IngestSecret        string
	IngestSkewSeconds   int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		RedisAddr:           getenvDefault("REDIS_ADDR", ""),
		CacheTTL:            getenvDuration("CACHE_TTL", 15*time.Minute),
		FacilityTimezone:    getenvDefault("FACILITY_TIMEZONE", "Asia/Kolkata"),
		DefaultCostPerKWh:   getenvFloatDefault("DEFAULT_COST_PER_KWH", 7.5),
		Currency:            getenvDefault("CURRENCY", "INR"),
		DefaultRatedPowerW:  getenvFloatDefault("DEFAULT_RATED_POWER_W", 40),
		HeartbeatWindow:     getenvDuration("HEARTBEAT_WINDOW", 60*time.Second),
		FlushInterval:       getenvDuration("LEDGER_FLUSH_INTERVAL", time.Hour),
		AggregationGrace:    getenvDuration("AGGREGATION_GRACE", 120*time.Second),
		AggregationInterval: getenvDuration("AGGREGATION_INTERVAL", 5*time.Minute),
		AggregationDailyAt:  getenvDefault("AGGREGATION_DAILY_AT", "00:30"),
		OutboxDispatchEvery: getenvDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:        getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:   getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
