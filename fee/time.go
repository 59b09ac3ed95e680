package fee

import (
	"time"
)

// =============================================================================
// CALENDAR DATES - Fees are day-granular; all dates are UTC midnight
// =============================================================================

const DateLayout = "2006-01-02"

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOnly drops the clock part of t, keeping its calendar day.
func DateOnly(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

func Today() time.Time { return DateOnly(time.Now()) }

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// DayInMonth returns the given day of the month that is offset months after
// t's month. The day is always <= 28 in this package, so no overflow.
func DayInMonth(t time.Time, offset, day int) time.Time {
	first := Date(t.Year(), t.Month(), 1).AddDate(0, offset, 0)
	return Date(first.Year(), first.Month(), day)
}

func datePtr(t time.Time) *time.Time { return &t }

// Clock supplies the current time so that services are testable. A nil
// Clock reads the system clock.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func (c Clock) Today() time.Time {
	if c == nil {
		return Today()
	}
	return DateOnly(c())
}
