package ledger

import "errors"

var (
	// ErrNilEntry indicates a nil entry was passed in.
	ErrNilEntry = errors.New("ledger: nil entry")
	// ErrMissingKey indicates an entry without device or switch id.
	ErrMissingKey = errors.New("ledger: missing device or switch id")
	// ErrInvalidInterval indicates end_ts is not after start_ts.
	ErrInvalidInterval = errors.New("ledger: end_ts must be after start_ts")
	// ErrNegativeDelta indicates a negative energy delta.
	ErrNegativeDelta = errors.New("ledger: negative delta_wh")
)
