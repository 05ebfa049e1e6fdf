package events

import "time"

// LedgerEntryRecorded is raised after a ledger entry is appended.
// LocalDates carries the facility-local dates the interval touches so
// consumers can mark those days dirty without repeating timezone math.
type LedgerEntryRecorded struct {
	EventID    string    `json:"event_id"`
	EntryID    string    `json:"entry_id"`
	DeviceID   string    `json:"device_id"`
	SwitchID   string    `json:"switch_id"`
	Classroom  string    `json:"classroom"`
	StartTS    time.Time `json:"start_ts"`
	EndTS      time.Time `json:"end_ts"`
	LocalDates []string  `json:"local_dates"`
	OccurredAt time.Time `json:"occurred_at"`
}
