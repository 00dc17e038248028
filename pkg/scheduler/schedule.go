package scheduler

import (
	"fmt"
	"time"
)

// Schedule computes the next run time strictly after from.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type every struct {
	d time.Duration
}

// Every runs a job at a fixed interval. Non-positive intervals fall back to one minute.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return every{d: d}
}

func (s every) Next(from time.Time) time.Time { return from.Add(s.d) }
func (s every) String() string                 { return "every " + s.d.String() }

type hourlyAt struct {
	minute int
}

// HourlyAt runs a job once per hour at the given minute.
func HourlyAt(minute int) Schedule {
	return hourlyAt{minute: clamp(minute, 0, 59)}
}

func (s hourlyAt) Next(from time.Time) time.Time {
	next := from.Truncate(time.Hour).Add(time.Duration(s.minute) * time.Minute)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlyAt) String() string { return fmt.Sprintf("hourly at :%02d", s.minute) }

type dailyAt struct {
	hour, minute int
}

// DailyAt runs a job once per day at hour:minute in the location of the
// reference time passed to Next.
func DailyAt(hour, minute int) Schedule {
	return dailyAt{hour: clamp(hour, 0, 23), minute: clamp(minute, 0, 59)}
}

func (s dailyAt) Next(from time.Time) time.Time {
	y, m, d := from.Date()
	next := time.Date(y, m, d, s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailyAt) String() string { return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute) }

type monthlyOn struct {
	day, hour, minute int
}

// MonthlyOn runs a job once per month. Days past the end of a short month
// run on its last day.
func MonthlyOn(day, hour, minute int) Schedule {
	return monthlyOn{day: clamp(day, 1, 31), hour: clamp(hour, 0, 23), minute: clamp(minute, 0, 59)}
}

func (s monthlyOn) Next(from time.Time) time.Time {
	y, m, _ := from.Date()
	next := s.at(y, m, from.Location())
	if !next.After(from) {
		next = s.at(y, m+1, from.Location())
	}
	return next
}

func (s monthlyOn) at(y int, m time.Month, loc *time.Location) time.Time {
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	d := min(s.day, daysIn(first))
	return time.Date(first.Year(), first.Month(), d, s.hour, s.minute, 0, 0, loc)
}

func (s monthlyOn) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", s.day, s.hour, s.minute)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
