package application

import (
	"context"
	"errors"
	"log"
	"time"

	analytics "autovolt-cloud/internal/analytics/domain"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultDailyAt       = "00:30"
)

// ClassroomSource lists the classrooms known to the device registry.
type ClassroomSource interface {
	Classrooms(ctx context.Context) ([]string, error)
}

// Scheduler drives the aggregation passes: a frequent sweep of dirty
// days plus "today", and a nightly pass that finalizes yesterday and
// refreshes the month. Both recompute idempotently, so overlapping
// runs converge on the same rows.
type Scheduler struct {
	aggregator *Aggregator
	tracker    *Tracker
	classrooms ClassroomSource
	interval   time.Duration
	dailyAt    string
	loc        *time.Location
	clock      Clock
	logger     *log.Logger
}

// NewScheduler constructs the scheduler.
func NewScheduler(
	aggregator *Aggregator,
	tracker *Tracker,
	classrooms ClassroomSource,
	interval time.Duration,
	dailyAt string,
	logger *log.Logger,
) (*Scheduler, error) {
	if aggregator == nil {
		return nil, errors.New("aggregation scheduler: nil aggregator")
	}
	if tracker == nil {
		return nil, errors.New("aggregation scheduler: nil tracker")
	}
	if classrooms == nil {
		return nil, errors.New("aggregation scheduler: nil classroom source")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if dailyAt == "" {
		dailyAt = defaultDailyAt
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		aggregator: aggregator,
		tracker:    tracker,
		classrooms: classrooms,
		interval:   interval,
		dailyAt:    dailyAt,
		loc:        aggregator.Location(),
		clock:      aggregator.clock,
		logger:     logger,
	}, nil
}

// Start runs the scheduler loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	sweep := time.NewTicker(s.interval)
	defer sweep.Stop()
	minute := time.NewTicker(time.Minute)
	defer minute.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			s.Sweep(ctx)
		case now := <-minute.C:
			local := now.In(s.loc)
			if s.shouldRunNightly(local) {
				s.Nightly(ctx, local)
			}
		}
	}
}

// Sweep re-aggregates the dirty days plus today for every classroom,
// then refreshes the months those days belong to. Failed days go back
// on the dirty set for the next pass.
func (s *Scheduler) Sweep(ctx context.Context) {
	keys := s.tracker.Drain()
	seen := make(map[DayKey]struct{}, len(keys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}

	today := analytics.LocalDate(s.clock.Now(), s.loc)
	classrooms, err := s.classrooms.Classrooms(ctx)
	if err != nil {
		s.logger.Printf("event=aggregation_sweep_error stage=classrooms error=%q", err)
	}
	for _, classroom := range classrooms {
		key := DayKey{Classroom: classroom, Date: today}
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}

	months := make(map[DayKey]struct{})
	for _, key := range keys {
		if _, err := s.aggregator.AggregateDay(ctx, key.Classroom, key.Date); err != nil {
			s.logger.Printf("event=aggregation_sweep_error classroom=%s date=%s error=%q", key.Classroom, key.Date, err)
			s.tracker.Mark(key.Classroom, key.Date)
			continue
		}
		months[DayKey{Classroom: key.Classroom, Date: analytics.MonthOf(key.Date)}] = struct{}{}
	}
	for key := range months {
		if _, err := s.aggregator.AggregateMonth(ctx, key.Classroom, key.Date); err != nil {
			s.logger.Printf("event=aggregation_sweep_error classroom=%s month=%s error=%q", key.Classroom, key.Date, err)
		}
	}
}

// Nightly finalizes yesterday for every classroom and refreshes the
// months yesterday and today fall in.
func (s *Scheduler) Nightly(ctx context.Context, localNow time.Time) {
	yesterday := localNow.AddDate(0, 0, -1).Format(analytics.DateLayout)
	today := localNow.Format(analytics.DateLayout)

	classrooms, err := s.classrooms.Classrooms(ctx)
	if err != nil {
		s.logger.Printf("event=aggregation_nightly_error stage=classrooms error=%q", err)
		return
	}
	for _, classroom := range classrooms {
		if _, err := s.aggregator.AggregateDay(ctx, classroom, yesterday); err != nil {
			s.logger.Printf("event=aggregation_nightly_error classroom=%s date=%s error=%q", classroom, yesterday, err)
			s.tracker.Mark(classroom, yesterday)
			continue
		}
		months := []string{analytics.MonthOf(yesterday)}
		if m := analytics.MonthOf(today); m != months[0] {
			months = append(months, m)
		}
		for _, month := range months {
			if _, err := s.aggregator.AggregateMonth(ctx, classroom, month); err != nil {
				s.logger.Printf("event=aggregation_nightly_error classroom=%s month=%s error=%q", classroom, month, err)
			}
		}
	}
	s.logger.Printf("event=aggregation_nightly date=%s classrooms=%d", yesterday, len(classrooms))
}

func (s *Scheduler) shouldRunNightly(localNow time.Time) bool {
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
