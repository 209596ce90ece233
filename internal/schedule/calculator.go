// Package schedule computes backup schedule timestamps and manages schedule
// records. NextRun is a pure function: identical inputs always yield the same
// UTC instant, which keeps scheduler behavior reproducible in tests.
package schedule

import (
	"fmt"
	"time"

	"backup-orchestrator/internal/backup"
)

// NextRun computes the next fire time for a schedule configuration, strictly
// after now, returned in UTC. An unrecognized frequency is a configuration
// error rather than a silent fallback.
func NextRun(s *backup.Schedule, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, backup.NewConfigurationError(
			fmt.Sprintf("unknown timezone %q", s.Timezone), err)
	}
	local := now.In(loc)

	var next time.Time
	switch s.Frequency {
	case backup.FrequencyHourly:
		next = nextHourly(local, s.Minute)
	case backup.FrequencyDaily:
		next = nextDaily(local, s.Hour, s.Minute)
	case backup.FrequencyWeekly:
		if s.DayOfWeek == nil {
			return time.Time{}, backup.NewConfigurationError("weekly schedule has no day of week", nil)
		}
		next = nextWeekly(local, *s.DayOfWeek, s.Hour, s.Minute)
	case backup.FrequencyMonthly:
		if s.DayOfMonth == nil {
			return time.Time{}, backup.NewConfigurationError("monthly schedule has no day of month", nil)
		}
		next = nextMonthly(local, *s.DayOfMonth, s.Hour, s.Minute)
	default:
		return time.Time{}, backup.NewConfigurationError(
			fmt.Sprintf("unknown schedule frequency %q", s.Frequency), nil)
	}

	return next.UTC(), nil
}

func nextHourly(now time.Time, minute int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(time.Hour)
	}
	return candidate
}

func nextDaily(now time.Time, hour, minute int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeekly(now time.Time, dayOfWeek, hour, minute int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	daysUntil := (dayOfWeek - int(now.Weekday()) + 7) % 7
	if daysUntil == 0 && !candidate.After(now) {
		daysUntil = 7
	}
	return candidate.AddDate(0, 0, daysUntil)
}

func nextMonthly(now time.Time, dayOfMonth, hour, minute int) time.Time {
	// Clamp the requested day to the current month's length. On rollover the
	// clamp is recomputed against the next month, so day 31 lands on Apr 30
	// and then back on May 31.
	day := min(dayOfMonth, daysInMonth(now.Year(), now.Month()))
	candidate := time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, now.Location())
	if candidate.After(now) {
		return candidate
	}

	year, month := now.Year(), now.Month()
	if month == time.December {
		year, month = year+1, time.January
	} else {
		month++
	}
	day = min(dayOfMonth, daysInMonth(year, month))
	return time.Date(year, month, day, hour, minute, 0, 0, now.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
