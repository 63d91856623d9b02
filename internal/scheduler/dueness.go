package scheduler

import (
	"fmt"
	"time"

	"finledger/internal/core"
)

// DuenessChecker decides whether a period boundary was crossed between the
// last trigger and now. Both times are already in the schedule's timezone.
type DuenessChecker interface {
	Crossed(lastRun, now time.Time) bool
}

// DailyChecker fires once per calendar day.
type DailyChecker struct{}

func (DailyChecker) Crossed(lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	ly, lm, ld := lastRun.Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}

// WeeklyChecker fires once per ISO week, so the first trigger of a week
// lands on Monday.
type WeeklyChecker struct{}

func (WeeklyChecker) Crossed(lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	ly, lw := lastRun.ISOWeek()
	ny, nw := now.ISOWeek()
	return ly != ny || lw != nw
}

// MonthlyChecker fires once per calendar month.
type MonthlyChecker struct{}

func (MonthlyChecker) Crossed(lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return lastRun.Year() != now.Year() || lastRun.Month() != now.Month()
}

var duenessStrategies = map[core.PeriodKind]DuenessChecker{
	core.PeriodDaily:   DailyChecker{},
	core.PeriodWeekly:  WeeklyChecker{},
	core.PeriodMonthly: MonthlyChecker{},
}

// GetDuenessChecker returns the checker for a schedulable period kind.
func GetDuenessChecker(kind core.PeriodKind) (DuenessChecker, error) {
	checker, ok := duenessStrategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q cannot be scheduled", core.ErrInvalidPeriodKind, kind)
	}
	return checker, nil
}

// isDue reports whether a schedule should trigger at now: a boundary has
// been crossed since lastRun and the local clock has reached hour. A zero
// lastRun means the schedule never fired, so the previous period is still
// owed.
func isDue(checker DuenessChecker, lastRun, now time.Time, hour int) bool {
	return now.Hour() >= hour && checker.Crossed(lastRun, now)
}
