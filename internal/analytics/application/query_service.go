package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	analytics "autovolt-cloud/internal/analytics/domain"
	"autovolt-cloud/internal/observability/metrics"
)

// DeviceDaily is one device's share of a daily summary.
type DeviceDaily struct {
	DeviceID    string  `json:"device_id"`
	TotalKWh    float64 `json:"total_kwh"`
	TotalCost   float64 `json:"total_cost"`
	OnTimeHours float64 `json:"on_time_hours"`
	MeasuredWh  float64 `json:"measured_wh"`
	EstimatedWh float64 `json:"estimated_wh"`
}

// DailySummary is the classroom view of one facility-local date.
type DailySummary struct {
	Classroom    string        `json:"classroom"`
	Date         string        `json:"date"`
	Timezone     string        `json:"timezone"`
	TotalKWh     float64       `json:"total_kwh"`
	TotalCost    float64       `json:"total_cost"`
	Currency     string        `json:"currency"`
	OnTimeHours  float64       `json:"on_time_hours"`
	Devices      []DeviceDaily `json:"devices"`
	CalculatedAt time.Time     `json:"calculated_at"`
}

// MonthlySummary is the classroom view of one facility-local month.
type MonthlySummary struct {
	Classroom    string                 `json:"classroom"`
	Month        string                 `json:"month"`
	Timezone     string                 `json:"timezone"`
	TotalKWh     float64                `json:"total_kwh"`
	TotalCost    float64                `json:"total_cost"`
	Currency     string                 `json:"currency"`
	OnTimeHours  float64                `json:"on_time_hours"`
	DailyTotals  []analytics.DailyTotal `json:"daily_totals"`
	CalculatedAt time.Time              `json:"calculated_at"`
}

// TimelineBucket is one fixed-width slice of a classroom timeline.
type TimelineBucket struct {
	BucketStart time.Time `json:"bucket_start"`
	EnergyWh    float64   `json:"energy_wh"`
	Cost        float64   `json:"cost"`
	OnTimeSec   float64   `json:"on_time_sec"`
}

// QueryService serves read-side summaries: cache, then store, then an
// on-demand aggregation pass. It never blocks on the schedulers.
type QueryService struct {
	dailies    analytics.DailyRepository
	monthlies  analytics.MonthlyRepository
	entries    EntrySource
	aggregator *Aggregator
	cache      SummaryCache
	logger     *log.Logger
	loc        *time.Location
}

// NewQueryService constructs a query service. cache may be nil.
func NewQueryService(
	dailies analytics.DailyRepository,
	monthlies analytics.MonthlyRepository,
	entries EntrySource,
	aggregator *Aggregator,
	cache SummaryCache,
	logger *log.Logger,
) (*QueryService, error) {
	if dailies == nil {
		return nil, errors.New("query service: nil daily repository")
	}
	if monthlies == nil {
		return nil, errors.New("query service: nil monthly repository")
	}
	if entries == nil {
		return nil, errors.New("query service: nil entry source")
	}
	if aggregator == nil {
		return nil, errors.New("query service: nil aggregator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &QueryService{
		dailies:    dailies,
		monthlies:  monthlies,
		entries:    entries,
		aggregator: aggregator,
		cache:      cache,
		logger:     logger,
		loc:        aggregator.Location(),
	}, nil
}

// GetDailySummary returns the classroom summary for one local date.
func (s *QueryService) GetDailySummary(ctx context.Context, classroom, date string) (*DailySummary, error) {
	if _, _, err := analytics.DayWindow(date, s.loc); err != nil {
		metrics.IncSummaryQuery("daily", metrics.ResultError)
		return nil, err
	}

	if s.cache != nil {
		payload, err := s.cache.GetDaily(ctx, classroom, date)
		switch {
		case err == nil:
			metrics.IncSummaryCacheHit("daily")
			var summary DailySummary
			if err := json.Unmarshal(payload, &summary); err == nil {
				metrics.IncSummaryQuery("daily", metrics.ResultSuccess)
				return &summary, nil
			}
			// Unreadable payload: fall through to the store.
		case errors.Is(err, ErrCacheMiss):
			metrics.IncSummaryCacheMiss("daily")
		default:
			s.logger.Printf("event=cache_read_error kind=daily classroom=%s date=%s error=%q", classroom, date, err)
		}
	}

	dailies, err := s.dailies.ListByClassroomDate(ctx, classroom, date)
	if err != nil {
		metrics.IncSummaryQuery("daily", metrics.ResultError)
		return nil, err
	}
	if len(dailies) == 0 {
		// Never aggregated (or nothing recorded): one on-demand pass
		// settles which.
		if _, err := s.aggregator.AggregateDay(ctx, classroom, date); err != nil {
			metrics.IncSummaryQuery("daily", metrics.ResultError)
			return nil, err
		}
		dailies, err = s.dailies.ListByClassroomDate(ctx, classroom, date)
		if err != nil {
			metrics.IncSummaryQuery("daily", metrics.ResultError)
			return nil, err
		}
	}

	summary := s.composeDaily(classroom, date, dailies)
	s.cacheDaily(ctx, classroom, date, summary)
	metrics.IncSummaryQuery("daily", metrics.ResultSuccess)
	return summary, nil
}

func (s *QueryService) composeDaily(classroom, date string, dailies []analytics.DailyAggregate) *DailySummary {
	summary := &DailySummary{
		Classroom: classroom,
		Date:      date,
		Timezone:  s.loc.String(),
		Devices:   []DeviceDaily{},
	}
	for _, agg := range dailies {
		summary.TotalKWh += agg.TotalKWh
		summary.TotalCost += agg.CostAtCalcTime
		summary.OnTimeHours += agg.OnTimeSec / 3600
		if agg.Currency != "" {
			summary.Currency = agg.Currency
		}
		if agg.CalculatedAt.After(summary.CalculatedAt) {
			summary.CalculatedAt = agg.CalculatedAt
		}
		summary.Devices = append(summary.Devices, DeviceDaily{
			DeviceID:    agg.DeviceID,
			TotalKWh:    agg.TotalKWh,
			TotalCost:   agg.CostAtCalcTime,
			OnTimeHours: agg.OnTimeSec / 3600,
			MeasuredWh:  agg.MeasuredWh,
			EstimatedWh: agg.EstimatedWh,
		})
	}
	sort.Slice(summary.Devices, func(i, j int) bool {
		return summary.Devices[i].DeviceID < summary.Devices[j].DeviceID
	})
	return summary
}

func (s *QueryService) cacheDaily(ctx context.Context, classroom, date string, summary *DailySummary) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.SetDaily(ctx, classroom, date, payload); err != nil {
		s.logger.Printf("event=cache_write_error kind=daily classroom=%s date=%s error=%q", classroom, date, err)
	}
}

// GetMonthlySummary returns the classroom summary for one local month.
func (s *QueryService) GetMonthlySummary(ctx context.Context, classroom, month string) (*MonthlySummary, error) {
	if _, _, err := analytics.MonthWindow(month, s.loc); err != nil {
		metrics.IncSummaryQuery("monthly", metrics.ResultError)
		return nil, err
	}

	if s.cache != nil {
		payload, err := s.cache.GetMonthly(ctx, classroom, month)
		switch {
		case err == nil:
			metrics.IncSummaryCacheHit("monthly")
			var summary MonthlySummary
			if err := json.Unmarshal(payload, &summary); err == nil {
				metrics.IncSummaryQuery("monthly", metrics.ResultSuccess)
				return &summary, nil
			}
		case errors.Is(err, ErrCacheMiss):
			metrics.IncSummaryCacheMiss("monthly")
		default:
			s.logger.Printf("event=cache_read_error kind=monthly classroom=%s month=%s error=%q", classroom, month, err)
		}
	}

	monthlies, err := s.monthlies.ListByClassroomMonth(ctx, classroom, month)
	if err != nil {
		metrics.IncSummaryQuery("monthly", metrics.ResultError)
		return nil, err
	}
	if len(monthlies) == 0 {
		if _, err := s.aggregator.AggregateMonth(ctx, classroom, month); err != nil {
			metrics.IncSummaryQuery("monthly", metrics.ResultError)
			return nil, err
		}
		monthlies, err = s.monthlies.ListByClassroomMonth(ctx, classroom, month)
		if err != nil {
			metrics.IncSummaryQuery("monthly", metrics.ResultError)
			return nil, err
		}
	}

	summary := s.composeMonthly(classroom, month, monthlies)
	s.cacheMonthly(ctx, classroom, month, summary)
	metrics.IncSummaryQuery("monthly", metrics.ResultSuccess)
	return summary, nil
}

func (s *QueryService) composeMonthly(classroom, month string, monthlies []analytics.MonthlyAggregate) *MonthlySummary {
	summary := &MonthlySummary{
		Classroom:   classroom,
		Month:       month,
		Timezone:    s.loc.String(),
		DailyTotals: []analytics.DailyTotal{},
	}
	perDate := make(map[string]*analytics.DailyTotal)
	for _, agg := range monthlies {
		summary.TotalKWh += agg.TotalKWh
		summary.TotalCost += agg.CostAtCalcTime
		summary.OnTimeHours += agg.OnTimeSec / 3600
		if agg.Currency != "" {
			summary.Currency = agg.Currency
		}
		if agg.CalculatedAt.After(summary.CalculatedAt) {
			summary.CalculatedAt = agg.CalculatedAt
		}
		for _, day := range agg.DailyTotals {
			total, ok := perDate[day.Date]
			if !ok {
				total = &analytics.DailyTotal{Date: day.Date}
				perDate[day.Date] = total
			}
			total.TotalWh += day.TotalWh
			total.Cost += day.Cost
		}
	}
	for _, total := range perDate {
		summary.DailyTotals = append(summary.DailyTotals, *total)
	}
	sort.Slice(summary.DailyTotals, func(i, j int) bool {
		return summary.DailyTotals[i].Date < summary.DailyTotals[j].Date
	})
	return summary
}

func (s *QueryService) cacheMonthly(ctx context.Context, classroom, month string, summary *MonthlySummary) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.SetMonthly(ctx, classroom, month, payload); err != nil {
		s.logger.Printf("event=cache_write_error kind=monthly classroom=%s month=%s error=%q", classroom, month, err)
	}
}

// GetTimeline splits a classroom's ledger entries pro-rata into fixed
// buckets. The sum over the buckets equals the sum of the entries'
// in-range slices exactly.
func (s *QueryService) GetTimeline(ctx context.Context, classroom string, from, to time.Time, bucketMinutes int) ([]TimelineBucket, error) {
	if bucketMinutes <= 0 {
		return nil, analytics.ErrInvalidBucket
	}
	if !to.After(from) {
		return nil, analytics.ErrInvalidRange
	}
	from = from.UTC()
	to = to.UTC()
	width := time.Duration(bucketMinutes) * time.Minute

	entries, err := s.entries.ListOverlapping(ctx, classroom, from, to)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	count := int(to.Sub(from) / width)
	if from.Add(time.Duration(count) * width).Before(to) {
		count++
	}
	buckets := make([]TimelineBucket, count)
	for i := range buckets {
		buckets[i].BucketStart = from.Add(time.Duration(i) * width)
	}

	for i := range entries {
		entry := &entries[i]
		first := 0
		if entry.StartTS.After(from) {
			first = int(entry.StartTS.Sub(from) / width)
		}
		for b := first; b < count; b++ {
			bucketStart := buckets[b].BucketStart
			if !bucketStart.Before(entry.EndTS) {
				break
			}
			bucketEnd := bucketStart.Add(width)
			if bucketEnd.After(to) {
				bucketEnd = to
			}
			fraction := analytics.OverlapFraction(entry.StartTS, entry.EndTS, bucketStart, bucketEnd)
			if fraction <= 0 {
				continue
			}
			buckets[b].EnergyWh += entry.DeltaWh * fraction
			buckets[b].Cost += entry.CostINR * fraction
			if entry.SwitchState {
				buckets[b].OnTimeSec += entry.DurationSeconds * fraction
			}
		}
	}
	return buckets, nil
}
