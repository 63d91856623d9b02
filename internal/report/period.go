package report

import (
	"fmt"
	"time"

	"finledger/internal/core"
)

// PeriodRange returns the calendar-aligned period of kind containing ref.
// Weeks run Monday to Sunday.
func PeriodRange(kind core.PeriodKind, ref core.Date) (core.DateRange, error) {
	switch kind {
	case core.PeriodDaily:
		return core.DateRange{Start: ref, End: ref}, nil
	case core.PeriodWeekly:
		offset := (int(ref.Weekday()) + 6) % 7
		start := ref.AddDays(-offset)
		return core.DateRange{Start: start, End: start.AddDays(6)}, nil
	case core.PeriodMonthly:
		start := core.NewDate(ref.Year(), int(ref.Month()), 1)
		end := core.Date{Time: start.AddDate(0, 1, -1)}
		return core.DateRange{Start: start, End: end}, nil
	default:
		return core.DateRange{}, fmt.Errorf("%w: %q has no calendar range", core.ErrInvalidPeriodKind, kind)
	}
}

// PreviousPeriod returns the most recent period of kind that ended before
// today.
func PreviousPeriod(kind core.PeriodKind, today core.Date) (core.DateRange, error) {
	current, err := PeriodRange(kind, today)
	if err != nil {
		return core.DateRange{}, err
	}
	return PeriodRange(kind, current.Start.AddDays(-1))
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) core.Date {
	if loc == nil {
		loc = time.UTC
	}
	return core.DateOf(now.In(loc))
}

// Title names a period for subjects and headings, e.g. "June 2025" or
// "2025-06-09 to 2025-06-15".
func Title(kind core.PeriodKind, r core.DateRange) string {
	switch {
	case kind == core.PeriodMonthly:
		return r.Start.Format("January 2006")
	case r.Start == r.End:
		return r.Start.String()
	default:
		return r.Start.String() + " to " + r.End.String()
	}
}
