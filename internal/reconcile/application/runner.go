package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	analytics "autovolt-cloud/internal/analytics/domain"
	"autovolt-cloud/internal/audit"
	"autovolt-cloud/internal/auth"
	devices "autovolt-cloud/internal/devices/domain"
	ledger "autovolt-cloud/internal/ledger/domain"
	pricing "autovolt-cloud/internal/pricing/domain"
	reconcilemetrics "autovolt-cloud/internal/reconcile/metrics"
	"autovolt-cloud/internal/reconcile/notify"
	telemetry "autovolt-cloud/internal/telemetry/domain"
)

// Report is the persisted outcome of one reconcile run.
type Report struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DevicesChecked   int       `json:"devices_checked"`
	GapsFound        int       `json:"gaps_found"`
	EntriesCreated   int       `json:"entries_created"`
	ReaggregatedDays int       `json:"reaggregated_days"`
	Failed           []string  `json:"failed"`
}

// RunStore persists run reports.
type RunStore interface {
	SaveRun(ctx context.Context, report *Report) error
}

// DeviceSource lists registered devices with their heartbeat state.
type DeviceSource interface {
	List(ctx context.Context) ([]devices.Device, error)
}

// RecordSource loads the latest stored telemetry for a device.
type RecordSource interface {
	LatestForDevice(ctx context.Context, deviceID string) (*telemetry.Record, error)
}

// SwitchMetadata answers rated-power questions for a switch key.
type SwitchMetadata interface {
	RatedPower(ctx context.Context, deviceID, switchID string) (float64, string, error)
}

// EntrySink appends gap-fill entries to the ledger.
type EntrySink interface {
	Append(ctx context.Context, entry *ledger.Entry) (bool, error)
}

// PriceResolver returns the price in force for a classroom at an
// instant. Implementations fall back to a default quote on error.
type PriceResolver interface {
	Resolve(ctx context.Context, classroom string, ts time.Time) (pricing.PriceQuote, error)
}

// Reaggregator recomputes the aggregates the filled gaps touched.
type Reaggregator interface {
	AggregateDay(ctx context.Context, classroom, date string) (int, error)
	AggregateMonth(ctx context.Context, classroom, month string) (int, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type dayKey struct {
	classroom string
	date      string
}

// Runner sweeps the device registry for heartbeat gaps and backfills
// the ledger with low-confidence estimates. Fills reuse the ledger
// uniqueness key, so re-running over the same gap is a no-op.
type Runner struct {
	cfg         Config
	devices     DeviceSource
	records     RecordSource
	registry    SwitchMetadata
	entries     EntrySink
	prices      PriceResolver
	reaggregate Reaggregator
	runs        RunStore
	notifier    notify.Notifier
	metrics     *reconcilemetrics.Metrics
	auditLog    audit.Logger
	clock       Clock
	logger      *log.Logger
	loc         *time.Location
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithNotifier wires the gap alert webhook.
func WithNotifier(notifier notify.Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = notifier }
}

// WithRunnerMetrics wires the injected metrics bundle.
func WithRunnerMetrics(m *reconcilemetrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithAuditLogger overrides the audit sink.
func WithAuditLogger(auditLog audit.Logger) RunnerOption {
	return func(r *Runner) {
		if auditLog != nil {
			r.auditLog = auditLog
		}
	}
}

// WithRunnerClock overrides the clock (tests).
func WithRunnerClock(clock Clock) RunnerOption {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRunnerTimezone sets the facility timezone for local date keys.
func WithRunnerTimezone(loc *time.Location) RunnerOption {
	return func(r *Runner) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// NewRunner constructs a runner.
func NewRunner(
	cfg Config,
	deviceSource DeviceSource,
	records RecordSource,
	registry SwitchMetadata,
	entries EntrySink,
	prices PriceResolver,
	reaggregate Reaggregator,
	runs RunStore,
	logger *log.Logger,
	opts ...RunnerOption,
) (*Runner, error) {
	if deviceSource == nil {
		return nil, errors.New("reconcile runner: nil device source")
	}
	if records == nil {
		return nil, errors.New("reconcile runner: nil record source")
	}
	if registry == nil {
		return nil, errors.New("reconcile runner: nil switch metadata")
	}
	if entries == nil {
		return nil, errors.New("reconcile runner: nil entry sink")
	}
	if prices == nil {
		return nil, errors.New("reconcile runner: nil price resolver")
	}
	if reaggregate == nil {
		return nil, errors.New("reconcile runner: nil reaggregator")
	}
	if runs == nil {
		return nil, errors.New("reconcile runner: nil run store")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Runner{
		cfg:         cfg,
		devices:     deviceSource,
		records:     records,
		registry:    registry,
		entries:     entries,
		prices:      prices,
		reaggregate: reaggregate,
		runs:        runs,
		auditLog:    audit.NopLogger{},
		clock:       systemClock{},
		logger:      logger,
		loc:         time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one reconcile sweep. Per-device failures are collected
// into the report; the sweep keeps going.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := r.clock.Now()
	report := &Report{
		RunID:     "rec-" + uuid.NewString(),
		StartedAt: started,
		Failed:    []string{},
	}
	r.logger.Printf("event=reconcile_start run_id=%s", report.RunID)

	registered, err := r.devices.List(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RunsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("reconcile: list devices: %w", err)
	}

	touched := make(map[dayKey]struct{})
	for _, device := range registered {
		report.DevicesChecked++
		created, gap, err := r.checkDevice(ctx, started, report.RunID, device, touched)
		report.EntriesCreated += created
		if gap {
			report.GapsFound++
		}
		if err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("%s: %v", device.ID, err))
			r.logger.Printf("event=reconcile_device_error run_id=%s device_id=%s error=%q", report.RunID, device.ID, err)
		}
	}

	r.reaggregateTouched(ctx, report, touched)

	report.FinishedAt = r.clock.Now()
	if err := r.runs.SaveRun(ctx, report); err != nil {
		report.Failed = append(report.Failed, "save run: "+err.Error())
		r.logger.Printf("event=reconcile_save_error run_id=%s error=%q", report.RunID, err)
	}
	r.observeRun(report)
	r.auditRun(ctx, report)
	if report.GapsFound > 0 {
		r.alert(ctx, report)
	}
	r.logger.Printf("event=reconcile_done run_id=%s devices=%d gaps=%d entries=%d days=%d failed=%d",
		report.RunID, report.DevicesChecked, report.GapsFound, report.EntriesCreated,
		report.ReaggregatedDays, len(report.Failed))
	return report, nil
}

func (r *Runner) checkDevice(ctx context.Context, now time.Time, runID string, device devices.Device, touched map[dayKey]struct{}) (int, bool, error) {
	if device.LastSeenAt == nil {
		// Never reported; there is no last known state to extend.
		return 0, false, nil
	}
	thresholds := r.cfg.ThresholdsForClassroom(device.Classroom)
	gap := now.Sub(*device.LastSeenAt)
	if gap <= thresholds.GapThreshold.Std() {
		return 0, false, nil
	}
	if gap < thresholds.MinFill.Std() {
		return 0, true, nil
	}

	latest, err := r.records.LatestForDevice(ctx, device.ID)
	if err != nil {
		return 0, true, fmt.Errorf("latest record: %w", err)
	}
	if latest == nil {
		return 0, true, nil
	}
	created, err := r.fillGap(ctx, runID, device, latest, gap, thresholds, touched)
	return created, true, err
}

// fillGap appends one estimate entry per switch that was ON at last
// contact, covering [last_seen, last_seen+min(gap, max_fill)).
func (r *Runner) fillGap(
	ctx context.Context,
	runID string,
	device devices.Device,
	latest *telemetry.Record,
	gap time.Duration,
	thresholds Thresholds,
	touched map[dayKey]struct{},
) (int, error) {
	fill := gap
	if maxFill := thresholds.MaxFill.Std(); maxFill > 0 && fill > maxFill {
		fill = maxFill
	}
	start := device.LastSeenAt.UTC()
	end := start.Add(fill)

	states := latest.Reading.States()
	switchIDs := make([]string, 0, len(states))
	for switchID, on := range states {
		if on {
			switchIDs = append(switchIDs, switchID)
		}
	}
	sort.Strings(switchIDs)

	var firstErr error
	created := 0
	for _, switchID := range switchIDs {
		watts, switchName, err := r.registry.RatedPower(ctx, device.ID, switchID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rated power %s: %w", switchID, err)
			}
			continue
		}
		deltaWh := watts * fill.Hours()
		quote, err := r.prices.Resolve(ctx, device.Classroom, end)
		if err != nil {
			r.logger.Printf("event=price_fallback run_id=%s device_id=%s classroom=%s error=%q",
				runID, device.ID, device.Classroom, err)
		}
		power := watts
		entry := &ledger.Entry{
			EntryID:         uuid.NewString(),
			DeviceID:        device.ID,
			SwitchID:        switchID,
			SwitchName:      switchName,
			Classroom:       device.Classroom,
			StartTS:         start,
			EndTS:           end,
			DurationSeconds: fill.Seconds(),
			DeltaWh:         deltaWh,
			PowerW:          &power,
			SwitchState:     true,
			Method:          ledger.MethodEstimated,
			Confidence:      ledger.ConfidenceLow,
			Reason:          ledger.ReasonGapFill,
			CostPerKWh:      quote.CostPerKWh,
			CostINR:         quote.CostFor(deltaWh),
			Currency:        quote.Currency,
			PriceVersionID:  quote.VersionID,
			CalcRunID:       runID,
			CreatedAt:       r.clock.Now(),
		}
		appended, err := r.entries.Append(ctx, entry)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("append %s: %w", switchID, err)
			}
			continue
		}
		if !appended {
			// A previous run already filled this gap.
			continue
		}
		created++
		for _, date := range r.localDates(start, end) {
			touched[dayKey{classroom: device.Classroom, date: date}] = struct{}{}
		}
	}
	return created, firstErr
}

func (r *Runner) reaggregateTouched(ctx context.Context, report *Report, touched map[dayKey]struct{}) {
	keys := make([]dayKey, 0, len(touched))
	for key := range touched {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].classroom != keys[j].classroom {
			return keys[i].classroom < keys[j].classroom
		}
		return keys[i].date < keys[j].date
	})

	months := make(map[dayKey]struct{})
	for _, key := range keys {
		if _, err := r.reaggregate.AggregateDay(ctx, key.classroom, key.date); err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("aggregate %s %s: %v", key.classroom, key.date, err))
			continue
		}
		report.ReaggregatedDays++
		months[dayKey{classroom: key.classroom, date: analytics.MonthOf(key.date)}] = struct{}{}
	}

	monthKeys := make([]dayKey, 0, len(months))
	for key := range months {
		monthKeys = append(monthKeys, key)
	}
	sort.Slice(monthKeys, func(i, j int) bool {
		if monthKeys[i].classroom != monthKeys[j].classroom {
			return monthKeys[i].classroom < monthKeys[j].classroom
		}
		return monthKeys[i].date < monthKeys[j].date
	})
	for _, key := range monthKeys {
		if _, err := r.reaggregate.AggregateMonth(ctx, key.classroom, key.date); err != nil {
			report.Failed = append(report.Failed, fmt.Sprintf("aggregate month %s %s: %v", key.classroom, key.date, err))
		}
	}
}

func (r *Runner) localDates(start, end time.Time) []string {
	first := analytics.LocalDate(start, r.loc)
	last := analytics.LocalDate(end, r.loc)
	dates, err := analytics.DatesBetween(first, last, r.loc)
	if err != nil {
		return []string{first}
	}
	return dates
}

func (r *Runner) observeRun(report *Report) {
	if r.metrics == nil {
		return
	}
	result := "success"
	if len(report.Failed) > 0 {
		result = "error"
	}
	r.metrics.RunsTotal.WithLabelValues(result).Inc()
	r.metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	r.metrics.GapsFound.Add(float64(report.GapsFound))
	r.metrics.EntriesCreated.Add(float64(report.EntriesCreated))
	r.metrics.LastRunUnix.Set(float64(report.FinishedAt.Unix()))
}

func (r *Runner) auditRun(ctx context.Context, report *Report) {
	actor := auth.SubjectFromContext(ctx)
	if actor == "" {
		actor = "scheduler"
	}
	details, err := json.Marshal(report)
	if err != nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		At:           r.clock.Now(),
		Actor:        actor,
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "reconcile.run",
		Resource:     "run:" + report.RunID,
		Details:      details,
		DigestSHA256: audit.DigestJSON(details),
	}
	if err := r.auditLog.Log(ctx, entry); err != nil {
		r.logger.Printf("event=reconcile_audit_error run_id=%s error=%q", report.RunID, err)
	}
}

func (r *Runner) alert(ctx context.Context, report *Report) {
	if r.notifier == nil {
		return
	}
	msg := notify.AlertMessage{
		RunID:            report.RunID,
		StartedAt:        report.StartedAt.Format(time.RFC3339),
		DevicesChecked:   report.DevicesChecked,
		GapsFound:        report.GapsFound,
		EntriesCreated:   report.EntriesCreated,
		ReaggregatedDays: report.ReaggregatedDays,
		Failed:           report.Failed,
	}
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.logger.Printf("event=reconcile_alert_error run_id=%s error=%q", report.RunID, err)
	}
}
