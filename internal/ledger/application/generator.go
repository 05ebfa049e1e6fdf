package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"autovolt-cloud/internal/eventing"
	"autovolt-cloud/internal/ledger/application/events"
	ledger "autovolt-cloud/internal/ledger/domain"
	"autovolt-cloud/internal/observability/metrics"
	pricing "autovolt-cloud/internal/pricing/domain"
	telemetry "autovolt-cloud/internal/telemetry/domain"
)

const (
	defaultFlushInterval = time.Hour
	defaultClampMin      = 10 * time.Second
	defaultClampMax      = 24 * time.Hour

	// Measured deltas beyond this multiple of rated power times
	// duration are flagged implausible.
	plausibilityFactor = 2.0
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// PriceResolver returns the price in force for a classroom at an
// instant. Implementations fall back to a default quote on error.
type PriceResolver interface {
	Resolve(ctx context.Context, classroom string, ts time.Time) (pricing.PriceQuote, error)
}

// SwitchMetadata answers rated-power questions for a switch key.
type SwitchMetadata interface {
	RatedPower(ctx context.Context, deviceID, switchID string) (float64, string, error)
}

// RecordSource loads stored telemetry for state recovery.
type RecordSource interface {
	LatestForDevice(ctx context.Context, deviceID string) (*telemetry.Record, error)
}

// Publisher sends events through the durable outbox.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// intervalState is the open interval for one (device, switch) key. It
// is a process-scoped cache, never the source of truth; after a
// restart it is rebuilt from the ledger and the latest stored record.
type intervalState struct {
	switchOn   bool
	startTS    time.Time
	baselineWh *float64
	lastWh     *float64
	powerW     *float64
	lastTS     time.Time
}

// deviceState serializes all ledger work for one device.
type deviceState struct {
	mu        sync.Mutex
	recovered bool
	switches  map[string]*intervalState
}

// Generator closes telemetry into immutable priced ledger entries.
// Different devices are processed concurrently; same-device work is
// serialized by a per-device mutex, and ordering within a switch key
// is enforced by the monotonic lastTS check.
type Generator struct {
	entries   ledger.EntryRepository
	records   RecordSource
	registry  SwitchMetadata
	prices    PriceResolver
	publisher Publisher
	stats     *GeneratorStats
	clock     Clock
	logger    *log.Logger
	loc       *time.Location

	flushInterval time.Duration
	clampMin      time.Duration
	clampMax      time.Duration
	calcRunID     string

	mu      sync.Mutex
	devices map[string]*deviceState
}

// GeneratorOption configures the generator.
type GeneratorOption func(*Generator)

// WithFlushInterval bounds how long an open interval may grow.
func WithFlushInterval(interval time.Duration) GeneratorOption {
	return func(g *Generator) {
		if interval > 0 {
			g.flushInterval = interval
		}
	}
}

// WithEstimateClamp bounds the elapsed time used by estimates.
func WithEstimateClamp(min, max time.Duration) GeneratorOption {
	return func(g *Generator) {
		if min > 0 {
			g.clampMin = min
		}
		if max > 0 {
			g.clampMax = max
		}
	}
}

// WithGeneratorClock overrides the clock (tests).
func WithGeneratorClock(clock Clock) GeneratorOption {
	return func(g *Generator) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithTimezone sets the facility timezone used for local dates on
// published events.
func WithTimezone(loc *time.Location) GeneratorOption {
	return func(g *Generator) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithCalcRunID overrides the generated run id (tests).
func WithCalcRunID(id string) GeneratorOption {
	return func(g *Generator) {
		if id != "" {
			g.calcRunID = id
		}
	}
}

// NewGenerator constructs a generator.
func NewGenerator(
	entries ledger.EntryRepository,
	records RecordSource,
	registry SwitchMetadata,
	prices PriceResolver,
	publisher Publisher,
	stats *GeneratorStats,
	logger *log.Logger,
	opts ...GeneratorOption,
) (*Generator, error) {
	if entries == nil {
		return nil, errors.New("ledger generator: nil entry repository")
	}
	if records == nil {
		return nil, errors.New("ledger generator: nil record source")
	}
	if registry == nil {
		return nil, errors.New("ledger generator: nil switch metadata")
	}
	if prices == nil {
		return nil, errors.New("ledger generator: nil price resolver")
	}
	if stats == nil {
		stats = NewGeneratorStats()
	}
	if logger == nil {
		logger = log.Default()
	}
	g := &Generator{
		entries:       entries,
		records:       records,
		registry:      registry,
		prices:        prices,
		publisher:     publisher,
		stats:         stats,
		clock:         systemClock{},
		logger:        logger,
		loc:           time.UTC,
		flushInterval: defaultFlushInterval,
		clampMin:      defaultClampMin,
		clampMax:      defaultClampMax,
		calcRunID:     uuid.NewString(),
		devices:       make(map[string]*deviceState),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Stats exposes the injected stats object.
func (g *Generator) Stats() *GeneratorStats { return g.stats }

// Process consumes one telemetry record, closing intervals into ledger
// entries where the record's switch states demand it. It returns the
// number of entries created. Stale readings are skipped and counted;
// only internal failures (storage) surface as errors.
func (g *Generator) Process(ctx context.Context, record *telemetry.Record) (int, error) {
	if record == nil || record.Reading == nil {
		return 0, telemetry.ErrNilRecord
	}
	device := g.deviceFor(record.DeviceID)
	device.mu.Lock()
	defer device.mu.Unlock()

	if !device.recovered {
		g.recoverDevice(ctx, device, record)
		device.recovered = true
	}

	states := record.Reading.States()
	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	created := 0
	var firstErr error
	for _, switchID := range keys {
		n, err := g.processKey(ctx, device, record, switchID, states[switchID])
		created += n
		if err != nil {
			g.stats.RecordError(err)
			g.logger.Printf("event=ledger_process_error device_id=%s switch_id=%s error=%q",
				record.DeviceID, switchID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return created, firstErr
}

func (g *Generator) processKey(ctx context.Context, device *deviceState, record *telemetry.Record, switchID string, on bool) (int, error) {
	ts := record.TS.UTC()

	var counter *float64
	if m, ok := record.Reading.(telemetry.Measured); ok {
		c := m.EnergyWhCounter
		counter = &c
	}
	power := record.Reading.Power()

	state, ok := device.switches[switchID]
	if !ok {
		// First reading for this key establishes the baseline.
		device.switches[switchID] = &intervalState{
			switchOn:   on,
			startTS:    ts,
			baselineWh: counter,
			lastWh:     counter,
			powerW:     power,
			lastTS:     ts,
		}
		return 0, nil
	}

	if !ts.After(state.lastTS) {
		g.stats.IncStale()
		g.logger.Printf("event=stale_reading device_id=%s switch_id=%s ts=%s last_ts=%s",
			record.DeviceID, switchID, ts.Format(time.RFC3339), state.lastTS.Format(time.RFC3339))
		return 0, nil
	}

	transition := on != state.switchOn
	flushDue := ts.Sub(state.startTS) >= g.flushInterval
	if !transition && !flushDue {
		// Same state within the flush tick: extend the open interval.
		state.lastTS = ts
		if counter != nil {
			state.lastWh = counter
		}
		if power != nil {
			state.powerW = power
		}
		return 0, nil
	}

	created, err := g.closeInterval(ctx, record.DeviceID, record.Classroom, switchID, state, ts, counter)
	if err != nil {
		return 0, err
	}

	// New open interval begins at the closing record's ts.
	state.switchOn = on
	state.startTS = ts
	state.lastTS = ts
	if counter != nil {
		state.baselineWh = counter
		state.lastWh = counter
	} else {
		state.baselineWh = state.lastWh
	}
	if power != nil {
		state.powerW = power
	} else if transition {
		state.powerW = nil
	}
	return created, nil
}

// closeInterval emits the ledger entry for [state.startTS, endTS]. The
// caller owns the device lock and advances the state afterwards.
func (g *Generator) closeInterval(ctx context.Context, deviceID, classroom, switchID string, state *intervalState, endTS time.Time, closingWh *float64) (int, error) {
	elapsed := endTS.Sub(state.startTS)
	if elapsed <= 0 {
		return 0, nil
	}

	rated, switchName, err := g.registry.RatedPower(ctx, deviceID, switchID)
	if err != nil {
		g.logger.Printf("event=rated_power_fallback device_id=%s switch_id=%s error=%q", deviceID, switchID, err)
	}

	measured := state.baselineWh != nil && closingWh != nil

	var (
		deltaWh    float64
		entryPower *float64
		method     string
		confidence string
		reason     string
	)

	if measured {
		method = ledger.MethodMeasured
		confidence = ledger.ConfidenceHigh
		if *closingWh < *state.baselineWh {
			// Counter reset (device reboot): no negative energy, the
			// boundary's delta is zero and the baseline moves on.
			g.stats.IncReset()
			metrics.IncCounterReset()
			g.logger.Printf("event=counter_reset device_id=%s switch_id=%s baseline=%.1f counter=%.1f",
				deviceID, switchID, *state.baselineWh, *closingWh)
			deltaWh = 0
			confidence = ledger.ConfidenceMedium
			reason = ledger.ReasonCounterReset
		} else {
			deltaWh = *closingWh - *state.baselineWh
			if rated > 0 && deltaWh > plausibilityFactor*rated*elapsed.Hours() {
				confidence = ledger.ConfidenceMedium
				reason = ledger.ReasonImplausibleDelta
			}
		}
		if elapsed.Hours() > 0 {
			avg := deltaWh / elapsed.Hours()
			entryPower = &avg
		}
	} else {
		method = ledger.MethodEstimated
		confidence = ledger.ConfidenceMedium
		if !state.switchOn {
			// Nothing estimated for an OFF interval; the state simply
			// advances.
			return 0, nil
		}
		watts := rated
		if state.powerW != nil && *state.powerW > 0 {
			watts = *state.powerW
		}
		clamped := elapsed
		if clamped < g.clampMin {
			clamped = g.clampMin
		}
		if clamped > g.clampMax {
			clamped = g.clampMax
		}
		if clamped != elapsed {
			confidence = ledger.ConfidenceLow
			reason = ledger.ReasonClampedEstimate
		}
		deltaWh = watts * clamped.Hours()
		entryPower = &watts
	}

	if !state.switchOn && deltaWh <= 0 {
		// Measured OFF interval with no counter movement: no entry.
		return 0, nil
	}

	quote, err := g.prices.Resolve(ctx, classroom, endTS)
	if err != nil {
		g.stats.IncPriceFallback()
		g.logger.Printf("event=price_fallback device_id=%s classroom=%s error=%q", deviceID, classroom, err)
	}

	now := g.clock.Now()
	entry := &ledger.Entry{
		EntryID:         uuid.NewString(),
		DeviceID:        deviceID,
		SwitchID:        switchID,
		SwitchName:      switchName,
		Classroom:       classroom,
		StartTS:         state.startTS,
		EndTS:           endTS,
		DurationSeconds: elapsed.Seconds(),
		DeltaWh:         deltaWh,
		PowerW:          entryPower,
		SwitchState:     state.switchOn,
		Method:          method,
		Confidence:      confidence,
		Reason:          reason,
		CostPerKWh:      quote.CostPerKWh,
		CostINR:         quote.CostFor(deltaWh),
		Currency:        quote.Currency,
		PriceVersionID:  quote.VersionID,
		CalcRunID:       g.calcRunID,
		CreatedAt:       now,
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	appended, err := g.entries.Append(ctx, entry)
	if err != nil {
		return 0, err
	}
	if !appended {
		g.stats.IncDuplicate()
		return 0, nil
	}

	g.stats.IncEntries(1, now)
	metrics.IncLedgerEntries(method, 1)
	g.publishRecorded(ctx, entry, now)
	return 1, nil
}

// publishRecorded emits LedgerEntryRecorded. A publish failure is
// counted but does not fail the close: the entry is already durable
// and the scheduled aggregation passes pick the day up regardless.
func (g *Generator) publishRecorded(ctx context.Context, entry *ledger.Entry, now time.Time) {
	if g.publisher == nil {
		return
	}
	event := events.LedgerEntryRecorded{
		EventID:    uuid.NewString(),
		EntryID:    entry.EntryID,
		DeviceID:   entry.DeviceID,
		SwitchID:   entry.SwitchID,
		Classroom:  entry.Classroom,
		StartTS:    entry.StartTS,
		EndTS:      entry.EndTS,
		LocalDates: localDates(entry.StartTS, entry.EndTS, g.loc),
		OccurredAt: now,
	}
	publishCtx := eventing.WithEventID(ctx, event.EventID)
	if err := g.publisher.Publish(publishCtx, event); err != nil {
		g.stats.RecordError(err)
		g.logger.Printf("event=ledger_publish_error entry_id=%s error=%q", entry.EntryID, err)
	}
}

// FlushOpen closes open intervals older than the flush interval up to
// their last evidence timestamp, so a crash loses at most one tick.
// Unwitnessed time beyond lastTS is the reconciliation job's concern.
func (g *Generator) FlushOpen(ctx context.Context) (int, error) {
	now := g.clock.Now()

	g.mu.Lock()
	deviceIDs := make([]string, 0, len(g.devices))
	for id := range g.devices {
		deviceIDs = append(deviceIDs, id)
	}
	g.mu.Unlock()
	sort.Strings(deviceIDs)

	created := 0
	var firstErr error
	for _, deviceID := range deviceIDs {
		device := g.deviceFor(deviceID)
		device.mu.Lock()
		classroom := ""
		switchIDs := make([]string, 0, len(device.switches))
		for switchID := range device.switches {
			switchIDs = append(switchIDs, switchID)
		}
		sort.Strings(switchIDs)
		for _, switchID := range switchIDs {
			state := device.switches[switchID]
			if !state.lastTS.After(state.startTS) {
				continue
			}
			if now.Sub(state.startTS) < g.flushInterval {
				continue
			}
			if classroom == "" {
				classroom = g.classroomFor(ctx, deviceID)
			}
			n, err := g.closeInterval(ctx, deviceID, classroom, switchID, state, state.lastTS, state.lastWh)
			if err != nil {
				g.stats.RecordError(err)
				g.logger.Printf("event=flush_error device_id=%s switch_id=%s error=%q", deviceID, switchID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			created += n
			state.startTS = state.lastTS
			if state.lastWh != nil {
				state.baselineWh = state.lastWh
			}
		}
		device.mu.Unlock()
	}
	return created, firstErr
}

// RunFlushLoop runs the flush sweep on a ticker until ctx is done.
func (g *Generator) RunFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(g.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.FlushOpen(ctx)
			if err != nil {
				g.logger.Printf("event=flush_sweep_error error=%q", err)
				continue
			}
			if n > 0 {
				g.logger.Printf("event=flush_sweep entries=%d", n)
			}
		}
	}
}

// OpenIntervals reports the number of open interval states.
func (g *Generator) OpenIntervals() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, device := range g.devices {
		device.mu.Lock()
		count += len(device.switches)
		device.mu.Unlock()
	}
	return count
}

func (g *Generator) deviceFor(deviceID string) *deviceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	device, ok := g.devices[deviceID]
	if !ok {
		device = &deviceState{switches: make(map[string]*intervalState)}
		g.devices[deviceID] = device
	}
	return device
}

// recoverDevice rebuilds per-key state from the most recent ledger
// entry (continuity point) and the latest stored record (last known
// switch state and counter). An explicit step: the in-memory map is a
// cache, never assumed to have survived a restart.
func (g *Generator) recoverDevice(ctx context.Context, device *deviceState, record *telemetry.Record) {
	latest, err := g.records.LatestForDevice(ctx, record.DeviceID)
	if err != nil {
		g.stats.RecordError(err)
		g.logger.Printf("event=recovery_error device_id=%s error=%q", record.DeviceID, err)
		return
	}

	states := record.Reading.States()
	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, switchID := range keys {
		entry, err := g.entries.LatestForSwitch(ctx, record.DeviceID, switchID)
		if err != nil {
			g.stats.RecordError(err)
			g.logger.Printf("event=recovery_error device_id=%s switch_id=%s error=%q", record.DeviceID, switchID, err)
			continue
		}
		if entry == nil && latest == nil {
			continue
		}

		state := &intervalState{}
		if entry != nil {
			state.startTS = entry.EndTS
			state.lastTS = entry.EndTS
			state.switchOn = entry.SwitchState
		}
		if latest != nil {
			if on, ok := latest.Reading.States()[switchID]; ok {
				state.switchOn = on
			}
			if m, ok := latest.Reading.(telemetry.Measured); ok {
				c := m.EnergyWhCounter
				state.baselineWh = &c
				state.lastWh = &c
			}
			if p := latest.Reading.Power(); p != nil {
				state.powerW = p
			}
			if latest.TS.UTC().After(state.lastTS) {
				state.lastTS = latest.TS.UTC()
			}
			if state.startTS.IsZero() {
				state.startTS = latest.TS.UTC()
			}
		}
		if state.startTS.IsZero() {
			continue
		}
		device.switches[switchID] = state
		g.logger.Printf("event=state_recovered device_id=%s switch_id=%s start_ts=%s on=%t",
			record.DeviceID, switchID, state.startTS.Format(time.RFC3339), state.switchOn)
	}
}

// classroomFor resolves a device's classroom for flush closes, where
// no inbound record carries it. The latest stored record is the
// authority the ingest path also uses.
func (g *Generator) classroomFor(ctx context.Context, deviceID string) string {
	latest, err := g.records.LatestForDevice(ctx, deviceID)
	if err != nil || latest == nil {
		return ""
	}
	return latest.Classroom
}

// localDates lists the facility-local dates an interval touches.
func localDates(start, end time.Time, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	first := start.In(loc)
	last := end.In(loc)
	firstDay := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc)

	var dates []string
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format("2006-01-02"))
	}
	return dates
}
