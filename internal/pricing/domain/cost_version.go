package pricing

import (
	"context"
	"time"
)

// Scope determines which devices a cost version applies to.
type Scope string

const (
	// ScopeGlobal applies to every classroom without a narrower version.
	ScopeGlobal Scope = "global"
	// ScopeClassroom applies to a single classroom.
	ScopeClassroom Scope = "classroom"
)

// CostVersion is one immutable span of electricity pricing. Versions are
// closed by setting effective_until, never deleted.
type CostVersion struct {
	ID             string
	Scope          Scope
	Classroom      string
	CostPerKWh     float64
	Currency       string
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time
	Notes          string
	CreatedBy      string
	CreatedAt      time.Time
}

// Validate checks version invariants.
func (v CostVersion) Validate() error {
	switch v.Scope {
	case ScopeGlobal:
		if v.Classroom != "" {
			return ErrClassroomForbidden
		}
	case ScopeClassroom:
		if v.Classroom == "" {
			return ErrClassroomRequired
		}
	default:
		return ErrInvalidScope
	}
	if v.CostPerKWh <= 0 {
		return ErrInvalidPrice
	}
	if v.EffectiveFrom.IsZero() {
		return ErrInvalidEffectiveFrom
	}
	return nil
}

// Contains reports whether ts falls within [effective_from, effective_until).
func (v CostVersion) Contains(ts time.Time) bool {
	if ts.Before(v.EffectiveFrom) {
		return false
	}
	if v.EffectiveUntil == nil {
		return true
	}
	return ts.Before(*v.EffectiveUntil)
}

// Open reports whether the version has no end yet.
func (v CostVersion) Open() bool {
	return v.EffectiveUntil == nil
}

// PriceQuote is the resolved price for one point in time.
type PriceQuote struct {
	CostPerKWh float64
	Currency   string
	VersionID  string
}

// CostFor converts an energy delta in Wh into cost at this quote.
func (q PriceQuote) CostFor(deltaWh float64) float64 {
	return deltaWh / 1000 * q.CostPerKWh
}

// CostVersionRepository persists cost versions.
type CostVersionRepository interface {
	// FindActive returns the version of the scope target containing ts, or nil.
	FindActive(ctx context.Context, scope Scope, classroom string, ts time.Time) (*CostVersion, error)
	// Create closes the scope target's open version at the new effective_from
	// and inserts the new open version, atomically. Returns ErrVersionOverlap
	// when effective_from would overlap existing history.
	Create(ctx context.Context, version *CostVersion) error
	// List returns versions; empty classroom lists everything, otherwise the
	// classroom's own versions plus the global ones that back them.
	List(ctx context.Context, classroom string) ([]CostVersion, error)
}
