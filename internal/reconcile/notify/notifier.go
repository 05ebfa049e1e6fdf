package notify

import "context"

// AlertMessage summarizes a reconcile run that found gaps.
type AlertMessage struct {
	RunID            string            `json:"run_id"`
	StartedAt        string            `json:"started_at"`
	DevicesChecked   int               `json:"devices_checked"`
	GapsFound        int               `json:"gaps_found"`
	EntriesCreated   int               `json:"entries_created"`
	ReaggregatedDays int               `json:"reaggregated_days"`
	Failed           []string          `json:"failed,omitempty"`
	Meta             map[string]string `json:"meta,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}
