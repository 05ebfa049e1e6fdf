package ledger

import (
	"context"
	"time"
)

// Methods for computing an entry's energy delta.
const (
	MethodMeasured  = "measured"
	MethodEstimated = "estimated"
)

// Confidence grades.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Reasons attached to non-high-confidence entries.
const (
	ReasonCounterReset     = "counter-reset"
	ReasonImplausibleDelta = "implausible-delta"
	ReasonClampedEstimate  = "clamped-estimate"
	ReasonGapFill          = "gap-fill"
)

// Entry is one closed accounting interval for one switch. Entries are
// append-only and immutable; corrections are compensating entries,
// never edits. (device_id, switch_id, start_ts) is the uniqueness key
// and the sole backstop against replayed telemetry.
type Entry struct {
	EntryID         string
	DeviceID        string
	SwitchID        string
	SwitchName      string
	Classroom       string
	StartTS         time.Time
	EndTS           time.Time
	DurationSeconds float64
	DeltaWh         float64
	PowerW          *float64
	SwitchState     bool
	Method          string
	Confidence      string
	Reason          string
	CostPerKWh      float64
	CostINR         float64
	Currency        string
	PriceVersionID  string
	CalcRunID       string
	CreatedAt       time.Time
}

// Validate checks the entry invariants.
func (e *Entry) Validate() error {
	if e == nil {
		return ErrNilEntry
	}
	if e.DeviceID == "" || e.SwitchID == "" {
		return ErrMissingKey
	}
	if !e.EndTS.After(e.StartTS) {
		return ErrInvalidInterval
	}
	if e.DeltaWh < 0 {
		return ErrNegativeDelta
	}
	return nil
}

// EntryRepository persists ledger entries.
type EntryRepository interface {
	// Append inserts an entry; a duplicate uniqueness key is a silent
	// no-op and returns false.
	Append(ctx context.Context, entry *Entry) (bool, error)
	// LatestForSwitch returns the most recent entry by end_ts for a
	// switch key, nil when the switch has no entries.
	LatestForSwitch(ctx context.Context, deviceID, switchID string) (*Entry, error)
	// ListOverlapping returns a classroom's entries whose
	// [start_ts, end_ts) intersects [from, to), ordered by start_ts.
	ListOverlapping(ctx context.Context, classroom string, from, to time.Time) ([]Entry, error)
}
