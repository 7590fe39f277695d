package types

import (
	"fmt"
	"time"
)

// Window resolves the day's opening hours against a concrete date, returning
// the absolute open and close instants in day's location. ok is false when
// the day is closed or the times are malformed.
func (d DayHours) Window(day time.Time) (open, close time.Time, ok bool) {
	if d.Closed() {
		return time.Time{}, time.Time{}, false
	}
	openH, openM, err := parseClock(d.Open)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	closeH, closeM, err := parseClock(d.Close)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	y, m, dd := day.Date()
	loc := day.Location()
	open = time.Date(y, m, dd, openH, openM, 0, 0, loc)
	close = time.Date(y, m, dd, closeH, closeM, 0, 0, loc)
	if !close.After(open) {
		return time.Time{}, time.Time{}, false
	}
	return open, close, true
}

// Contains reports whether t falls inside the day's opening hours.
func (d DayHours) Contains(t time.Time) bool {
	open, close, ok := d.Window(t)
	return ok && !t.Before(open) && t.Before(close)
}

// OpenAt reports whether t falls inside the week's opening hours. An empty
// week means hours are not configured and the business counts as open.
func (w WeekHours) OpenAt(t time.Time) bool {
	if len(w) == 0 {
		return true
	}
	return w[t.Weekday()].Contains(t)
}

// parseClock parses a local "HH:MM" string.
func parseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("types: parse clock %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("types: clock %q out of range", s)
	}
	return hour, minute, nil
}
