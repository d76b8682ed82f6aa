package dr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule describes when a recurring job should run
type Schedule struct {
	Frequency Frequency
	Time      string // HH:MM, 24h
	DayOfWeek *time.Weekday
}

// ParseClock splits an HH:MM string into hour and minute
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// NextRun computes the next instant satisfying the schedule, strictly
// after now. Pure function, no I/O.
func NextRun(s Schedule, now time.Time) time.Time {
	hour, minute, err := ParseClock(s.Time)
	if err != nil {
		// Callers validate Time before storing, fall back to midnight
		hour, minute = 0, 0
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	switch s.Frequency {
	case FrequencyWeekly:
		day := time.Monday
		if s.DayOfWeek != nil {
			day = *s.DayOfWeek
		}
		ahead := (int(day) - int(now.Weekday()) + 7) % 7
		if ahead == 0 && !at.After(now) {
			// Target weekday's time already passed, roll a full week
			ahead = 7
		}
		return at.AddDate(0, 0, ahead)

	case FrequencyMonthly:
		if at.After(now) {
			return at
		}
		return at.AddDate(0, 1, 0)

	default: // daily
		if at.After(now) {
			return at
		}
		return at.AddDate(0, 0, 1)
	}
}
