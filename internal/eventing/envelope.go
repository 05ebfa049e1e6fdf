package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Envelope is the durable wire form of a pipeline event. Classroom and
// DeviceID are denormalized out of the payload so outbox and DLQ rows
// can be triaged without decoding.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	Classroom     string          `json:"classroom"`
	DeviceID      string          `json:"device_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta carries caller-supplied envelope fields. Zero values are filled
// from the event struct itself, then defaulted.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	Classroom     string
	DeviceID      string
	SchemaVersion int
}

// BuildEnvelope wraps an event for the outbox. The event's own
// DeviceID, Classroom and OccurredAt fields back-fill missing meta, so
// publishers only override what the context does not already carry.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	if meta.DeviceID == "" {
		meta.DeviceID = stringField(event, "DeviceID")
	}
	if meta.Classroom == "" {
		meta.Classroom = stringField(event, "Classroom")
	}
	if meta.OccurredAt.IsZero() {
		meta.OccurredAt = timeField(event, "OccurredAt")
	}
	if meta.OccurredAt.IsZero() {
		meta.OccurredAt = time.Now().UTC()
	}
	if meta.EventID == "" {
		meta.EventID = newEventID()
	}
	if meta.CorrelationID == "" {
		meta.CorrelationID = meta.EventID
	}
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = 1
	}

	return Envelope{
		EventID:       meta.EventID,
		EventType:     t.String(),
		OccurredAt:    meta.OccurredAt.UTC(),
		CorrelationID: meta.CorrelationID,
		Classroom:     meta.Classroom,
		DeviceID:      meta.DeviceID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}, nil
}

func structValue(event any) (reflect.Value, bool) {
	v := reflect.ValueOf(event)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.Kind() == reflect.Struct
}

func stringField(event any, name string) string {
	v, ok := structValue(event)
	if !ok {
		return ""
	}
	field := v.FieldByName(name)
	if field.IsValid() && field.Kind() == reflect.String {
		return field.String()
	}
	return ""
}

func timeField(event any, name string) time.Time {
	v, ok := structValue(event)
	if !ok {
		return time.Time{}
	}
	field := v.FieldByName(name)
	if !field.IsValid() {
		return time.Time{}
	}
	if ts, ok := field.Interface().(time.Time); ok {
		return ts
	}
	return time.Time{}
}
