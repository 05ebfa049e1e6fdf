package analytics

import (
	"context"
	"time"
)

// EntryCounts breaks a day's ledger entries down by confidence grade.
type EntryCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// DailyAggregate is the derived per-device summary for one facility-local
// date. It is fully recomputable from the ledger plus cost versions;
// recomputation replaces the row, never increments it.
type DailyAggregate struct {
	DeviceID       string
	Classroom      string
	Date           string
	Timezone       string
	TotalWh        float64
	TotalKWh       float64
	OnTimeSec      float64
	CostAtCalcTime float64
	Currency       string
	MeasuredWh     float64
	EstimatedWh    float64
	Entries        EntryCounts
	CalcRunID      string
	CalculatedAt   time.Time
}

// DailyTotal is one day's slice of a monthly aggregate.
type DailyTotal struct {
	Date    string  `json:"date"`
	TotalWh float64 `json:"total_wh"`
	Cost    float64 `json:"cost"`
}

// MonthlyAggregate is the derived per-device summary for one
// facility-local month, carrying its day-by-day breakdown.
type MonthlyAggregate struct {
	DeviceID       string
	Classroom      string
	Month          string
	Timezone       string
	TotalWh        float64
	TotalKWh       float64
	OnTimeSec      float64
	CostAtCalcTime float64
	Currency       string
	DailyTotals    []DailyTotal
	CalcRunID      string
	CalculatedAt   time.Time
}

// DailyRepository persists daily aggregates keyed by (device_id, date).
type DailyRepository interface {
	Upsert(ctx context.Context, agg *DailyAggregate) error
	ListByClassroomDate(ctx context.Context, classroom, date string) ([]DailyAggregate, error)
	// ListByClassroomMonth lists a classroom's daily aggregates whose
	// date falls inside the "YYYY-MM" month, ordered by date.
	ListByClassroomMonth(ctx context.Context, classroom, month string) ([]DailyAggregate, error)
}

// MonthlyRepository persists monthly aggregates keyed by (device_id, month).
type MonthlyRepository interface {
	Upsert(ctx context.Context, agg *MonthlyAggregate) error
	ListByClassroomMonth(ctx context.Context, classroom, month string) ([]MonthlyAggregate, error)
}
