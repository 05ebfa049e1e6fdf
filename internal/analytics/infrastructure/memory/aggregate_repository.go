package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	analytics "autovolt-cloud/internal/analytics/domain"
)

type dailyKey struct {
	deviceID string
	date     string
}

// DailyRepository is an in-memory daily aggregate store used by tests.
type DailyRepository struct {
	mu   sync.RWMutex
	rows map[dailyKey]analytics.DailyAggregate
}

// NewDailyRepository returns an empty store.
func NewDailyRepository() *DailyRepository {
	return &DailyRepository{rows: make(map[dailyKey]analytics.DailyAggregate)}
}

func (r *DailyRepository) Upsert(_ context.Context, agg *analytics.DailyAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[dailyKey{agg.DeviceID, agg.Date}] = *agg
	return nil
}

func (r *DailyRepository) ListByClassroomDate(_ context.Context, classroom, date string) ([]analytics.DailyAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []analytics.DailyAggregate
	for _, agg := range r.rows {
		if agg.Classroom == classroom && agg.Date == date {
			out = append(out, agg)
		}
	}
	sortDailies(out)
	return out, nil
}

func (r *DailyRepository) ListByClassroomMonth(_ context.Context, classroom, month string) ([]analytics.DailyAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []analytics.DailyAggregate
	for _, agg := range r.rows {
		if agg.Classroom == classroom && strings.HasPrefix(agg.Date, month+"-") {
			out = append(out, agg)
		}
	}
	sortDailies(out)
	return out, nil
}

func sortDailies(out []analytics.DailyAggregate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].DeviceID < out[j].DeviceID
	})
}

type monthlyKey struct {
	deviceID string
	month    string
}

// MonthlyRepository is an in-memory monthly aggregate store used by tests.
type MonthlyRepository struct {
	mu   sync.RWMutex
	rows map[monthlyKey]analytics.MonthlyAggregate
}

// NewMonthlyRepository returns an empty store.
func NewMonthlyRepository() *MonthlyRepository {
	return &MonthlyRepository{rows: make(map[monthlyKey]analytics.MonthlyAggregate)}
}

func (r *MonthlyRepository) Upsert(_ context.Context, agg *analytics.MonthlyAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *agg
	clone.DailyTotals = append([]analytics.DailyTotal(nil), agg.DailyTotals...)
	r.rows[monthlyKey{agg.DeviceID, agg.Month}] = clone
	return nil
}

func (r *MonthlyRepository) ListByClassroomMonth(_ context.Context, classroom, month string) ([]analytics.MonthlyAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []analytics.MonthlyAggregate
	for _, agg := range r.rows {
		if agg.Classroom == classroom && agg.Month == month {
			clone := agg
			clone.DailyTotals = append([]analytics.DailyTotal(nil), agg.DailyTotals...)
			out = append(out, clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}
