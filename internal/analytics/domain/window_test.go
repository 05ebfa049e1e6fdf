package analytics

import (
	"math"
	"testing"
	"time"
)

func TestDayWindow_FacilityLocalBounds(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	start, end, err := DayWindow("2024-03-05", ist)
	if err != nil {
		t.Fatalf("day window: %v", err)
	}
	wantStart := time.Date(2024, 3, 4, 18, 30, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", start, wantStart)
	}
	if got := end.Sub(start); got != 24*time.Hour {
		t.Fatalf("window length = %v", got)
	}

	if _, _, err := DayWindow("05-03-2024", ist); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMonthWindow_SpansCalendarMonth(t *testing.T) {
	start, end, err := MonthWindow("2024-02", time.UTC)
	if err != nil {
		t.Fatalf("month window: %v", err)
	}
	// 2024 is a leap year.
	if got := end.Sub(start); got != 29*24*time.Hour {
		t.Fatalf("window length = %v", got)
	}
}

func TestDatesBetween_InclusiveRange(t *testing.T) {
	dates, err := DatesBetween("2024-02-28", "2024-03-01", time.UTC)
	if err != nil {
		t.Fatalf("dates between: %v", err)
	}
	want := []string{"2024-02-28", "2024-02-29", "2024-03-01"}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v", dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("dates[%d] = %q, want %q", i, dates[i], want[i])
		}
	}

	if _, err := DatesBetween("2024-03-02", "2024-03-01", time.UTC); err == nil {
		t.Fatal("expected range error")
	}
}

func TestOverlapFraction(t *testing.T) {
	base := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		start, end time.Time
		from, to   time.Time
		want       float64
	}{
		{"inside", base, base.Add(time.Hour), base.Add(-time.Hour), base.Add(2 * time.Hour), 1},
		{"half", base, base.Add(time.Hour), base.Add(30 * time.Minute), base.Add(2 * time.Hour), 0.5},
		{"disjoint", base, base.Add(time.Hour), base.Add(2 * time.Hour), base.Add(3 * time.Hour), 0},
		{"quarter", base, base.Add(time.Hour), base.Add(45 * time.Minute), base.Add(time.Hour), 0.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := OverlapFraction(tc.start, tc.end, tc.from, tc.to)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("fraction = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLocalDate_UsesFacilityTimezone(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	// 19:30 UTC is already past midnight in Kolkata.
	ts := time.Date(2024, 3, 5, 19, 30, 0, 0, time.UTC)
	if got := LocalDate(ts, ist); got != "2024-03-06" {
		t.Fatalf("local date = %q, want 2024-03-06", got)
	}
	if got := LocalDate(ts, time.UTC); got != "2024-03-05" {
		t.Fatalf("utc date = %q, want 2024-03-05", got)
	}
}

func TestMonthOfAndNextDate(t *testing.T) {
	if got := MonthOf("2024-03-05"); got != "2024-03" {
		t.Fatalf("month of = %q", got)
	}
	next, err := NextDate("2024-02-29", time.UTC)
	if err != nil {
		t.Fatalf("next date: %v", err)
	}
	if next != "2024-03-01" {
		t.Fatalf("next = %q, want 2024-03-01", next)
	}
}
