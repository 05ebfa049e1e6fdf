package application

import (
	"context"
	"log"
	"time"
)

// Scheduler triggers one reconcile run per day at the configured
// facility-local time.
type Scheduler struct {
	runner  *Runner
	dailyAt string
	loc     *time.Location
	logger  *log.Logger
}

// NewScheduler constructs a scheduler.
func NewScheduler(runner *Runner, dailyAt string, loc *time.Location, logger *log.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{runner: runner, dailyAt: dailyAt, loc: loc, logger: logger}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.In(s.loc)) {
				continue
			}
			if _, err := s.runner.Run(ctx); err != nil {
				s.logger.Printf("event=reconcile_schedule_error error=%q", err)
			}
		}
	}
}

func (s *Scheduler) shouldRun(localNow time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	return localNow.Hour() == hour && localNow.Minute() == minute
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
