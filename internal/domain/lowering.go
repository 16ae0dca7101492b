package domain

import (
	"fmt"
	"time"
)

// allButFebruary is the month list used for days 29 and 30, which every
// month except February has.
const allButFebruary = "1,3,4,5,6,7,8,9,10,11,12"

// CronExpressions lowers the schedule to the 5-field recurrence expressions
// whose union is the set of local fire times.
//
// ref is the local reference instant. Variants that depend on the year
// (Monthly days 29-31, LastDayOfMonth, FixedDate) resolve it from ref, so an
// evaluation window crossing a year boundary uses the starting year's rules.
//
// A FixedDate schedule whose year differs from ref's year lowers to no
// expressions. An invalid schedule returns an error wrapping
// ErrInvalidSchedule.
func (s Schedule) CronExpressions(ref time.Time) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, s.Kind, err)
	}

	switch s.Kind {
	case ScheduleCron:
		return []string{s.Expression}, nil

	case ScheduleDaily:
		return []string{expr(*s.Time, "*", "*", "*")}, nil

	case ScheduleWeekly:
		return []string{expr(*s.Time, "*", "*", fmt.Sprint(int(*s.Day)))}, nil

	case ScheduleMonthly:
		return monthlyExpressions(*s.DayOfMonth, *s.Time, ref.Year()), nil

	case ScheduleLastDayOfMonth:
		return lastDayOfMonthExpressions(*s.Time, ref.Year()), nil

	case ScheduleFixedDate:
		d := *s.Date
		if d.Year != ref.Year() {
			return nil, nil
		}
		return []string{expr(*s.Time, fmt.Sprint(d.Day), fmt.Sprint(int(d.Month)), "*")}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownScheduleKind, s.Kind)
}

func monthlyExpressions(day int, t TimeOfDay, year int) []string {
	switch {
	case day >= 31:
		return lastDayOfMonthExpressions(t, year)
	case day >= 29:
		return []string{
			expr(t, fmt.Sprint(lastDayOfFebruary(year)), "2", "*"),
			expr(t, fmt.Sprint(day), allButFebruary, "*"),
		}
	default:
		return []string{expr(t, fmt.Sprint(day), "*", "*")}
	}
}

func lastDayOfMonthExpressions(t TimeOfDay, year int) []string {
	return []string{
		expr(t, "30", "4,6,9,11", "*"),
		expr(t, "31", "1,3,5,7,8,10,12", "*"),
		expr(t, fmt.Sprint(lastDayOfFebruary(year)), "2", "*"),
	}
}

func expr(t TimeOfDay, dom, month, dow string) string {
	return fmt.Sprintf("%d %d %s %s %s", t.Minute, t.Hour, dom, month, dow)
}

func lastDayOfFebruary(year int) int {
	if IsLeapYear(year) {
		return 29
	}
	return 28
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
