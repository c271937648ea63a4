// Package schedule decides which configured time window, if any, is active.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

const minutesPerDay = 24 * 60

// ParseClock converts "HH:mm" into minutes since local midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:mm", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Evaluator matches schedules against wall-clock time in a fixed location.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator creates an evaluator. A nil location means time.Local.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{loc: loc}
}

// Matches reports whether the schedule covers now.
//
// Windows are [start, end). When end < start the window wraps midnight and
// the part after midnight belongs to the previous day's entry. start == end
// covers the whole day. Schedules with unparseable bounds never match.
func (e *Evaluator) Matches(s domain.Schedule, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	start, err := ParseClock(s.StartLocal)
	if err != nil {
		return false
	}
	end, err := ParseClock(s.EndLocal)
	if err != nil {
		return false
	}

	local := now.In(e.loc)
	day := int(local.Weekday())
	minute := local.Hour()*60 + local.Minute()

	switch {
	case start == end:
		return s.HasDay(day)
	case start < end:
		return s.HasDay(day) && minute >= start && minute < end
	default:
		if minute >= start {
			return s.HasDay(day)
		}
		if minute < end {
			return s.HasDay((day + 6) % 7)
		}
		return false
	}
}

// Active returns the first matching schedule in configured order, or nil.
// Overlapping windows are not merged.
func (e *Evaluator) Active(schedules []domain.Schedule, now time.Time) *domain.Schedule {
	for i := range schedules {
		if e.Matches(schedules[i], now) {
			return &schedules[i]
		}
	}
	return nil
}

// Validate checks bounds and weekdays of a schedule.
func Validate(s domain.Schedule) error {
	if _, err := ParseClock(s.StartLocal); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := ParseClock(s.EndLocal); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("day %d out of range 0-6", d)
		}
	}
	return nil
}

// WindowLength returns the window duration, handling midnight wrap.
func WindowLength(s domain.Schedule) (time.Duration, error) {
	start, err := ParseClock(s.StartLocal)
	if err != nil {
		return 0, err
	}
	end, err := ParseClock(s.EndLocal)
	if err != nil {
		return 0, err
	}
	mins := (end - start + minutesPerDay) % minutesPerDay
	if mins == 0 {
		mins = minutesPerDay
	}
	return time.Duration(mins) * time.Minute, nil
}
