package scheduler

import (
	"fmt"
	"time"
)

// Window is a daily time-of-day interval in which unattended draws are
// allowed. End before start means the window wraps past midnight:
// {06:00, 00:30} covers 06:00 through 00:30 the next day.
type Window struct {
	Start ClockTime
	End   ClockTime
}

// ClockTime is a time of day, independent of date and zone.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClockTime parses "HH:MM". The whole string must match; trailing
// characters are an error, not ignored.
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q (want HH:MM): %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ParseWindow parses a start/end pair of "HH:MM" strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether t's time of day falls inside the window.
// The start is inclusive, the end exclusive.
func (w Window) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	start := w.Start.minutes()
	end := w.End.minutes()
	if start == end {
		// Degenerate window: treat as always allowed.
		return true
	}
	if end < start {
		return m >= start || m < end
	}
	return m >= start && m < end
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
