package pricing

import "errors"

var (
	// ErrVersionOverlap is returned when a new version's effective_from would
	// overlap existing history for the same scope target.
	ErrVersionOverlap = errors.New("pricing: version overlap")
	// ErrInvalidScope is returned for an unknown scope value.
	ErrInvalidScope = errors.New("pricing: invalid scope")
	// ErrInvalidPrice is returned when cost_per_kwh is not positive.
	ErrInvalidPrice = errors.New("pricing: cost_per_kwh must be positive")
	// ErrClassroomRequired is returned when classroom scope lacks a classroom.
	ErrClassroomRequired = errors.New("pricing: classroom required for classroom scope")
	// ErrClassroomForbidden is returned when global scope names a classroom.
	ErrClassroomForbidden = errors.New("pricing: classroom not allowed for global scope")
	// ErrInvalidEffectiveFrom is returned when effective_from is zero.
	ErrInvalidEffectiveFrom = errors.New("pricing: invalid effective_from")
	// ErrNilVersion is returned when persisting a nil version.
	ErrNilVersion = errors.New("pricing: nil version")
)
