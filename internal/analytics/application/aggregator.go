package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	analytics "autovolt-cloud/internal/analytics/domain"
	ledger "autovolt-cloud/internal/ledger/domain"
	"autovolt-cloud/internal/observability/metrics"
	pricing "autovolt-cloud/internal/pricing/domain"
)

const defaultGrace = 2 * time.Minute

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// EntrySource reads ledger entries for aggregation.
type EntrySource interface {
	ListOverlapping(ctx context.Context, classroom string, from, to time.Time) ([]ledger.Entry, error)
}

// PriceResolver returns the price in force for a classroom at an
// instant, per the version history known right now.
type PriceResolver interface {
	Resolve(ctx context.Context, classroom string, ts time.Time) (pricing.PriceQuote, error)
}

// Invalidator drops cached summaries that recomputation superseded.
type Invalidator interface {
	InvalidateDay(ctx context.Context, classroom, date string) error
	InvalidateMonth(ctx context.Context, classroom, month string) error
}

// ReaggregateResult reports a bulk recomputation.
type ReaggregateResult struct {
	Days   int      `json:"days"`
	Months int      `json:"months"`
	Failed []string `json:"failed,omitempty"`
}

// Aggregator derives daily and monthly aggregates from the ledger.
// Every operation recomputes from scratch and upserts, so re-running
// any of them is safe at any time.
type Aggregator struct {
	entries   EntrySource
	dailies   analytics.DailyRepository
	monthlies analytics.MonthlyRepository
	prices    PriceResolver
	cache     Invalidator
	clock     Clock
	logger    *log.Logger
	loc       *time.Location
	grace     time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// AggregatorOption configures the aggregator.
type AggregatorOption func(*Aggregator)

// WithGrace sets how far behind now the aggregation cutoff trails.
func WithGrace(grace time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if grace >= 0 {
			a.grace = grace
		}
	}
}

// WithAggregatorClock overrides the clock (tests).
func WithAggregatorClock(clock Clock) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLocation sets the facility timezone.
func WithLocation(loc *time.Location) AggregatorOption {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithInvalidator wires summary-cache invalidation after recompute.
func WithInvalidator(cache Invalidator) AggregatorOption {
	return func(a *Aggregator) { a.cache = cache }
}

// NewAggregator constructs an aggregator.
func NewAggregator(
	entries EntrySource,
	dailies analytics.DailyRepository,
	monthlies analytics.MonthlyRepository,
	prices PriceResolver,
	logger *log.Logger,
	opts ...AggregatorOption,
) (*Aggregator, error) {
	if entries == nil {
		return nil, errors.New("aggregator: nil entry source")
	}
	if dailies == nil {
		return nil, errors.New("aggregator: nil daily repository")
	}
	if monthlies == nil {
		return nil, errors.New("aggregator: nil monthly repository")
	}
	if prices == nil {
		return nil, errors.New("aggregator: nil price resolver")
	}
	if logger == nil {
		logger = log.Default()
	}
	a := &Aggregator{
		entries:   entries,
		dailies:   dailies,
		monthlies: monthlies,
		prices:    prices,
		clock:     systemClock{},
		logger:    logger,
		loc:       time.UTC,
		grace:     defaultGrace,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Location exposes the facility timezone for read-side callers.
func (a *Aggregator) Location() *time.Location { return a.loc }

// LastRun reports when any aggregation pass last finished.
func (a *Aggregator) LastRun() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRun
}

func (a *Aggregator) markRun() {
	now := a.clock.Now()
	a.mu.Lock()
	a.lastRun = now
	a.mu.Unlock()
}

type dayTotals struct {
	totalWh     float64
	onTimeSec   float64
	cost        float64
	currency    string
	measuredWh  float64
	estimatedWh float64
	counts      analytics.EntryCounts
}

// AggregateDay recomputes one classroom's daily aggregates for a
// facility-local date and returns the number of device rows upserted.
// Entries still inside the grace window are left for the next pass;
// costs are re-resolved from the version history, so a corrected price
// shows up the next time the day is aggregated.
func (a *Aggregator) AggregateDay(ctx context.Context, classroom, date string) (int, error) {
	started := a.clock.Now()
	devices, err := a.aggregateDay(ctx, classroom, date)
	duration := a.clock.Now().Sub(started)
	if err != nil {
		metrics.ObserveAggregateDay(metrics.ResultError, duration)
		return 0, err
	}
	metrics.ObserveAggregateDay(metrics.ResultSuccess, duration)
	a.markRun()
	if a.cache != nil {
		if err := a.cache.InvalidateDay(ctx, classroom, date); err != nil {
			a.logger.Printf("event=cache_invalidate_error classroom=%s date=%s error=%q", classroom, date, err)
		}
		if err := a.cache.InvalidateMonth(ctx, classroom, analytics.MonthOf(date)); err != nil {
			a.logger.Printf("event=cache_invalidate_error classroom=%s month=%s error=%q", classroom, analytics.MonthOf(date), err)
		}
	}
	return devices, nil
}

func (a *Aggregator) aggregateDay(ctx context.Context, classroom, date string) (int, error) {
	dayStart, dayEnd, err := analytics.DayWindow(date, a.loc)
	if err != nil {
		return 0, err
	}
	cutoff := a.clock.Now().Add(-a.grace)

	entries, err := a.entries.ListOverlapping(ctx, classroom, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("aggregate day %s: %w", date, err)
	}

	perDevice := make(map[string]*dayTotals)
	for i := range entries {
		entry := &entries[i]
		if entry.EndTS.After(cutoff) {
			// Still warm: the interval may gain a sibling split or a
			// correction; the next pass picks it up.
			continue
		}
		fraction := analytics.OverlapFraction(entry.StartTS, entry.EndTS, dayStart, dayEnd)
		if fraction <= 0 {
			continue
		}
		totals, ok := perDevice[entry.DeviceID]
		if !ok {
			totals = &dayTotals{}
			perDevice[entry.DeviceID] = totals
		}

		sliceWh := entry.DeltaWh * fraction
		quote, err := a.prices.Resolve(ctx, classroom, entry.EndTS)
		if err != nil {
			a.logger.Printf("event=aggregate_price_fallback classroom=%s ts=%s error=%q",
				classroom, entry.EndTS.Format(time.RFC3339), err)
		}

		totals.totalWh += sliceWh
		totals.cost += quote.CostFor(sliceWh)
		if quote.Currency != "" {
			totals.currency = quote.Currency
		}
		if entry.SwitchState {
			totals.onTimeSec += entry.DurationSeconds * fraction
		}
		switch entry.Method {
		case ledger.MethodMeasured:
			totals.measuredWh += sliceWh
		default:
			totals.estimatedWh += sliceWh
		}
		switch entry.Confidence {
		case ledger.ConfidenceHigh:
			totals.counts.High++
		case ledger.ConfidenceMedium:
			totals.counts.Medium++
		default:
			totals.counts.Low++
		}
	}

	runID := uuid.NewString()
	now := a.clock.Now()
	deviceIDs := make([]string, 0, len(perDevice))
	for deviceID := range perDevice {
		deviceIDs = append(deviceIDs, deviceID)
	}
	sort.Strings(deviceIDs)

	for _, deviceID := range deviceIDs {
		totals := perDevice[deviceID]
		agg := &analytics.DailyAggregate{
			DeviceID:       deviceID,
			Classroom:      classroom,
			Date:           date,
			Timezone:       a.loc.String(),
			TotalWh:        totals.totalWh,
			TotalKWh:       totals.totalWh / 1000,
			OnTimeSec:      totals.onTimeSec,
			CostAtCalcTime: totals.cost,
			Currency:       totals.currency,
			MeasuredWh:     totals.measuredWh,
			EstimatedWh:    totals.estimatedWh,
			Entries:        totals.counts,
			CalcRunID:      runID,
			CalculatedAt:   now,
		}
		if err := a.dailies.Upsert(ctx, agg); err != nil {
			return 0, fmt.Errorf("aggregate day %s device %s: %w", date, deviceID, err)
		}
	}
	a.logger.Printf("event=aggregate_day classroom=%s date=%s devices=%d entries=%d",
		classroom, date, len(perDevice), len(entries))
	return len(perDevice), nil
}

// AggregateMonth recomputes one classroom's monthly aggregates by
// summing the month's stored dailies per device. Monthly totals equal
// the sum of their dailies by construction.
func (a *Aggregator) AggregateMonth(ctx context.Context, classroom, month string) (int, error) {
	started := a.clock.Now()
	devices, err := a.aggregateMonth(ctx, classroom, month)
	duration := a.clock.Now().Sub(started)
	if err != nil {
		metrics.ObserveAggregateMonth(metrics.ResultError, duration)
		return 0, err
	}
	metrics.ObserveAggregateMonth(metrics.ResultSuccess, duration)
	a.markRun()
	if a.cache != nil {
		if err := a.cache.InvalidateMonth(ctx, classroom, month); err != nil {
			a.logger.Printf("event=cache_invalidate_error classroom=%s month=%s error=%q", classroom, month, err)
		}
	}
	return devices, nil
}

func (a *Aggregator) aggregateMonth(ctx context.Context, classroom, month string) (int, error) {
	if _, _, err := analytics.MonthWindow(month, a.loc); err != nil {
		return 0, err
	}
	dailies, err := a.dailies.ListByClassroomMonth(ctx, classroom, month)
	if err != nil {
		return 0, fmt.Errorf("aggregate month %s: %w", month, err)
	}

	perDevice := make(map[string][]analytics.DailyAggregate)
	for _, daily := range dailies {
		perDevice[daily.DeviceID] = append(perDevice[daily.DeviceID], daily)
	}
	deviceIDs := make([]string, 0, len(perDevice))
	for deviceID := range perDevice {
		deviceIDs = append(deviceIDs, deviceID)
	}
	sort.Strings(deviceIDs)

	runID := uuid.NewString()
	now := a.clock.Now()
	for _, deviceID := range deviceIDs {
		days := perDevice[deviceID]
		sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

		agg := &analytics.MonthlyAggregate{
			DeviceID:     deviceID,
			Classroom:    classroom,
			Month:        month,
			Timezone:     a.loc.String(),
			CalcRunID:    runID,
			CalculatedAt: now,
		}
		for _, day := range days {
			agg.TotalWh += day.TotalWh
			agg.OnTimeSec += day.OnTimeSec
			agg.CostAtCalcTime += day.CostAtCalcTime
			if day.Currency != "" {
				agg.Currency = day.Currency
			}
			agg.DailyTotals = append(agg.DailyTotals, analytics.DailyTotal{
				Date:    day.Date,
				TotalWh: day.TotalWh,
				Cost:    day.CostAtCalcTime,
			})
		}
		agg.TotalKWh = agg.TotalWh / 1000
		if err := a.monthlies.Upsert(ctx, agg); err != nil {
			return 0, fmt.Errorf("aggregate month %s device %s: %w", month, deviceID, err)
		}
	}
	a.logger.Printf("event=aggregate_month classroom=%s month=%s devices=%d", classroom, month, len(perDevice))
	return len(perDevice), nil
}

// ReaggregateClassroom bulk-recomputes a local-date range plus the
// months it touches. Per-day failures are collected and the batch
// continues; the partial result names every failure.
func (a *Aggregator) ReaggregateClassroom(ctx context.Context, classroom, from, to string) (ReaggregateResult, error) {
	started := a.clock.Now()
	dates, err := analytics.DatesBetween(from, to, a.loc)
	if err != nil {
		metrics.ObserveReaggregate(metrics.ResultError, a.clock.Now().Sub(started))
		return ReaggregateResult{}, err
	}

	var result ReaggregateResult
	months := make(map[string]struct{})
	for _, date := range dates {
		if _, err := a.AggregateDay(ctx, classroom, date); err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("%s: %v", date, err))
			continue
		}
		result.Days++
		months[analytics.MonthOf(date)] = struct{}{}
	}

	monthKeys := make([]string, 0, len(months))
	for month := range months {
		monthKeys = append(monthKeys, month)
	}
	sort.Strings(monthKeys)
	for _, month := range monthKeys {
		if _, err := a.AggregateMonth(ctx, classroom, month); err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("%s: %v", month, err))
			continue
		}
		result.Months++
	}

	outcome := metrics.ResultSuccess
	if len(result.Failed) > 0 {
		outcome = metrics.ResultError
	}
	metrics.ObserveReaggregate(outcome, a.clock.Now().Sub(started))
	a.logger.Printf("event=reaggregate classroom=%s from=%s to=%s days=%d months=%d failed=%d",
		classroom, from, to, result.Days, result.Months, len(result.Failed))
	return result, nil
}
