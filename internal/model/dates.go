package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DayLayout is the canonical calendar date format used across layers.
const DayLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a date in YYYY-MM-DD form. Timestamps with a time part
// (e.g. "2024-03-01T00:00:00") are accepted and truncated.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DayLayout) && s[len(DayLayout)] == 'T' {
		s = s[:len(DayLayout)]
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "model: parse day %q", s)
	}
	return t, nil
}

// AddDays shifts a calendar date by n days.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysBetween returns the number of whole days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// WeekStart returns the Monday that starts the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = Day(t)
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return AddDays(t, -(wd - 1))
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DaysSinceOct1 returns days elapsed since October 1 of t's year, clipped at zero.
func DaysSinceOct1(t time.Time) int {
	oct1 := Date(t.Year(), time.October, 1)
	n := DaysBetween(oct1, t)
	if n < 0 {
		return 0
	}
	return n
}
