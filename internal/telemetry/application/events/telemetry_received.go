package events

import "time"

// TelemetryReceived is raised after a telemetry record is accepted and
// persisted. Consumers load the record by id; the event itself stays
// small.
type TelemetryReceived struct {
	EventID    string    `json:"event_id"`
	RecordID   string    `json:"record_id"`
	DeviceID   string    `json:"device_id"`
	Classroom  string    `json:"classroom"`
	TS         time.Time `json:"ts"`
	OccurredAt time.Time `json:"occurred_at"`
}
