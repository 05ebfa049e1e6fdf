package analytics

import "time"

const (
	// DateLayout is the facility-local date key format.
	DateLayout = "2006-01-02"
	// MonthLayout is the facility-local month key format.
	MonthLayout = "2006-01"
)

// LocalDate formats ts as a date key in the facility timezone.
func LocalDate(ts time.Time, loc *time.Location) string {
	return ts.In(loc).Format(DateLayout)
}

// DayWindow returns the UTC instants bounding the local day
// [00:00, 24:00). DST shifts make some local days 23 or 25 hours long;
// deriving the end from AddDate keeps the windows gap-free.
func DayWindow(date string, loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDate
	}
	return day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}

// MonthWindow returns the UTC instants bounding the local month.
func MonthWindow(month string, loc *time.Location) (time.Time, time.Time, error) {
	first, err := time.ParseInLocation(MonthLayout, month, loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidMonth
	}
	return first.UTC(), first.AddDate(0, 1, 0).UTC(), nil
}

// MonthOf returns the "YYYY-MM" prefix of a date key.
func MonthOf(date string) string {
	if len(date) < len(MonthLayout) {
		return ""
	}
	return date[:len(MonthLayout)]
}

// NextDate returns the day after a date key in loc.
func NextDate(date string, loc *time.Location) (string, error) {
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return "", ErrInvalidDate
	}
	return day.AddDate(0, 0, 1).Format(DateLayout), nil
}

// DatesBetween lists the date keys from `from` to `to` inclusive.
func DatesBetween(from, to string, loc *time.Location) ([]string, error) {
	start, err := time.ParseInLocation(DateLayout, from, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	end, err := time.ParseInLocation(DateLayout, to, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	var dates []string
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format(DateLayout))
	}
	return dates, nil
}

// OverlapFraction returns the fraction of [start, end) that lies inside
// [from, to). Splitting an interval across adjacent windows with this
// fraction conserves its total exactly.
func OverlapFraction(start, end, from, to time.Time) float64 {
	if !end.After(start) {
		return 0
	}
	s := start
	if from.After(s) {
		s = from
	}
	e := end
	if to.Before(e) {
		e = to
	}
	if !e.After(s) {
		return 0
	}
	return e.Sub(s).Seconds() / end.Sub(start).Seconds()
}
