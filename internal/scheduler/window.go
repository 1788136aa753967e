package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidWindow = errors.New("scheduler: invalid sync window")

// Window kinds. Deny wins over allow when both match.
const (
	WindowAllow = "allow"
	WindowDeny  = "deny"
)

// Window is one recurring daily time range gating sync execution. Start and
// End are HH:MM in the engine's local clock; a range may wrap past midnight.
// Empty Days means every day.
type Window struct {
	Kind  string   `json:"kind" toml:"kind"`
	Days  []string `json:"days,omitempty" toml:"days"`
	Start string   `json:"start" toml:"start"`
	End   string   `json:"end" toml:"end"`
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// Validate checks kind, day names, and time bounds.
func (w Window) Validate() error {
	if w.Kind != WindowAllow && w.Kind != WindowDeny {
		return fmt.Errorf("%w: kind %q", ErrInvalidWindow, w.Kind)
	}
	for _, d := range w.Days {
		if _, ok := dayNames[strings.ToLower(strings.TrimSpace(d))]; !ok {
			return fmt.Errorf("%w: day %q", ErrInvalidWindow, d)
		}
	}
	if _, err := parseClock(w.Start); err != nil {
		return fmt.Errorf("%w: start %q", ErrInvalidWindow, w.Start)
	}
	if _, err := parseClock(w.End); err != nil {
		return fmt.Errorf("%w: end %q", ErrInvalidWindow, w.End)
	}
	return nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// matches reports whether t falls inside the window's daily range.
func (w Window) matches(t time.Time) bool {
	start, _ := parseClock(w.Start)
	end, _ := parseClock(w.End)
	minute := t.Hour()*60 + t.Minute()

	day := t.Weekday()
	inRange := false
	if start <= end {
		inRange = minute >= start && minute < end && w.onDay(day)
	} else {
		// Wraps midnight: the early part belongs to the previous day's window.
		if minute >= start {
			inRange = w.onDay(day)
		} else if minute < end {
			inRange = w.onDay(day - 1)
		}
	}
	return inRange
}

func (w Window) onDay(d time.Weekday) bool {
	if d < time.Sunday {
		d += 7
	}
	if len(w.Days) == 0 {
		return true
	}
	for _, name := range w.Days {
		if dayNames[strings.ToLower(strings.TrimSpace(name))] == d {
			return true
		}
	}
	return false
}

// Windows is an application's full window set.
type Windows []Window

// Validate checks every window.
func (ws Windows) Validate() error {
	for _, w := range ws {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Open reports whether syncs may run at t. A matching deny window closes the
// schedule outright; if any allow windows exist, t must fall inside one.
func (ws Windows) Open(t time.Time) bool {
	var hasAllow, inAllow bool
	for _, w := range ws {
		switch w.Kind {
		case WindowDeny:
			if w.matches(t) {
				return false
			}
		case WindowAllow:
			hasAllow = true
			if w.matches(t) {
				inAllow = true
			}
		}
	}
	if hasAllow {
		return inAllow
	}
	return true
}

// NextOpen returns the earliest instant at or after t when the schedule is
// open, scanning minute by minute for up to one week. A schedule that never
// opens returns t unchanged, so a misconfigured window set fails loudly in
// sync logs rather than deferring forever.
func (ws Windows) NextOpen(t time.Time) time.Time {
	if ws.Open(t) {
		return t
	}
	probe := t.Truncate(time.Minute)
	for i := 0; i < 7*24*60; i++ {
		probe = probe.Add(time.Minute)
		if ws.Open(probe) {
			return probe
		}
	}
	return t
}
