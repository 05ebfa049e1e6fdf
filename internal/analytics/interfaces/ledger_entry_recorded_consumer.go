package interfaces

import (
	"context"
	"errors"
	"log"

	"autovolt-cloud/internal/analytics/application"
	analytics "autovolt-cloud/internal/analytics/domain"
	ledgerevents "autovolt-cloud/internal/ledger/application/events"
)

// LedgerEntryRecordedConsumer marks the days a new entry touches dirty
// and drops their cached summaries. Marking never fails; a cache error
// is logged and swallowed so the event is not retried for it.
type LedgerEntryRecordedConsumer struct {
	tracker *application.Tracker
	cache   application.SummaryCache
	logger  *log.Logger
}

// NewLedgerEntryRecordedConsumer constructs the consumer. cache may be nil.
func NewLedgerEntryRecordedConsumer(tracker *application.Tracker, cache application.SummaryCache, logger *log.Logger) (*LedgerEntryRecordedConsumer, error) {
	if tracker == nil {
		return nil, errors.New("analytics consumer: nil tracker")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &LedgerEntryRecordedConsumer{tracker: tracker, cache: cache, logger: logger}, nil
}

// HandleLedgerEntryRecorded handles ledger LedgerEntryRecorded events.
func (c *LedgerEntryRecordedConsumer) HandleLedgerEntryRecorded(ctx context.Context, event any) error {
	var evt ledgerevents.LedgerEntryRecorded
	switch e := event.(type) {
	case ledgerevents.LedgerEntryRecorded:
		evt = e
	case *ledgerevents.LedgerEntryRecorded:
		if e == nil {
			return nil
		}
		evt = *e
	default:
		return nil
	}

	for _, date := range evt.LocalDates {
		c.tracker.Mark(evt.Classroom, date)
		if c.cache == nil {
			continue
		}
		if err := c.cache.InvalidateDay(ctx, evt.Classroom, date); err != nil {
			c.logger.Printf("event=cache_invalidate_error classroom=%s date=%s error=%q", evt.Classroom, date, err)
		}
		if err := c.cache.InvalidateMonth(ctx, evt.Classroom, analytics.MonthOf(date)); err != nil {
			c.logger.Printf("event=cache_invalidate_error classroom=%s month=%s error=%q", evt.Classroom, analytics.MonthOf(date), err)
		}
	}
	return nil
}
