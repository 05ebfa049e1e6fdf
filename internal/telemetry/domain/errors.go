package telemetry

import "errors"

var (
	// ErrNilRecord indicates a nil record was passed in.
	ErrNilRecord = errors.New("telemetry: nil record")
	// ErrMissingDeviceID indicates a record without a device id.
	ErrMissingDeviceID = errors.New("telemetry: missing device id")
	// ErrInvalidTimestamp indicates a record with a zero or unparseable ts.
	ErrInvalidTimestamp = errors.New("telemetry: invalid timestamp")
	// ErrMissingReading indicates a record without a reading payload.
	ErrMissingReading = errors.New("telemetry: missing reading")
	// ErrEmptySwitchStates indicates a reading with no switch states.
	ErrEmptySwitchStates = errors.New("telemetry: empty switch states")
	// ErrNegativeCounter indicates a negative cumulative energy counter.
	ErrNegativeCounter = errors.New("telemetry: negative energy counter")
)
