package devices

import "errors"

var (
	// ErrEmptyDeviceID is returned when a device id is missing.
	ErrEmptyDeviceID = errors.New("devices: empty device id")
	// ErrEmptySwitchID is returned when a switch id is missing.
	ErrEmptySwitchID = errors.New("devices: empty switch id")
	// ErrNilDevice is returned when saving a nil device.
	ErrNilDevice = errors.New("devices: nil device")
)
