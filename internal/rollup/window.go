package rollup

import (
	"fmt"
	"time"

	"quiz-progress-service/internal/domain"
)

// Window is a half-open [Start, End) range. A zero End means open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Open reports whether the window has no end.
func (w Window) Open() bool {
	return w.End.IsZero()
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.Open() || t.Before(w.End)
}

// ResolveWindow returns the window of the given kind that contains now.
// Calendar boundaries are computed in loc; createdAt anchors the all-time window.
func ResolveWindow(kind domain.PeriodKind, now time.Time, loc *time.Location, createdAt time.Time) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	switch kind {
	case domain.PeriodDaily:
		start := midnight(local)
		return Window{Start: start, End: start.AddDate(0, 0, 1)}, nil
	case domain.PeriodWeekly:
		start := startOfWeek(local)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case domain.PeriodMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case domain.PeriodYearly:
		start := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(1, 0, 0)}, nil
	case domain.PeriodAllTime:
		return Window{Start: createdAt.In(loc)}, nil
	}
	return Window{}, fmt.Errorf("%w: %q", domain.ErrUnknownPeriodKind, kind)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Sunday at midnight on or before t.
func startOfWeek(t time.Time) time.Time {
	day := midnight(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// dayNumber maps the calendar date of t (in loc) to a day count, so that
// consecutive calendar days differ by exactly one regardless of DST.
func dayNumber(t time.Time, loc *time.Location) int64 {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// SelectorDate resolves an explicit dashboard selector to a reference instant in loc.
// Missing fields default to the first unit of the enclosing period; a missing
// year defaults to now's year.
func SelectorDate(sel domain.DateSelector, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	year := sel.Year
	if year == 0 {
		year = now.In(loc).Year()
	}
	if year < 1 || sel.Month < 0 || sel.Month > 12 || sel.Day < 0 || sel.Day > 31 || sel.Week < 0 || sel.Week > 53 {
		return time.Time{}, fmt.Errorf("%w: %+v", domain.ErrInvalidSelector, sel)
	}
	if sel.Week > 0 {
		if sel.Month != 0 || sel.Day != 0 {
			return time.Time{}, fmt.Errorf("%w: week cannot be combined with month or day", domain.ErrInvalidSelector)
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, loc).AddDate(0, 0, 7*(sel.Week-1)), nil
	}
	month := sel.Month
	if month == 0 {
		if sel.Day != 0 {
			return time.Time{}, fmt.Errorf("%w: day requires month", domain.ErrInvalidSelector)
		}
		month = 1
	}
	day := sel.Day
	if day == 0 {
		day = 1
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d is not a calendar date", domain.ErrInvalidSelector, year, month, day)
	}
	return t, nil
}
