package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleKind discriminates the schedule variants.
type ScheduleKind string

const (
	ScheduleCron           ScheduleKind = "Cron"
	ScheduleDaily          ScheduleKind = "Daily"
	ScheduleWeekly         ScheduleKind = "Weekly"
	ScheduleMonthly        ScheduleKind = "Monthly"
	ScheduleLastDayOfMonth ScheduleKind = "LastDayOfMonth"
	ScheduleFixedDate      ScheduleKind = "FixedDate"
)

// ScheduleKinds lists every supported schedule kind.
var ScheduleKinds = []ScheduleKind{
	ScheduleCron,
	ScheduleDaily,
	ScheduleWeekly,
	ScheduleMonthly,
	ScheduleLastDayOfMonth,
	ScheduleFixedDate,
}

// ParseScheduleKind matches s case-insensitively against the known kinds.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	for _, k := range ScheduleKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheduleKind, s)
}

func (k *ScheduleKind) UnmarshalText(b []byte) error {
	v, err := ParseScheduleKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Schedule describes when a task fires. Only the fields relevant to Kind
// are set:
//
//	Cron            Expression
//	Daily           Time
//	Weekly          Day, Time
//	Monthly         DayOfMonth, Time
//	LastDayOfMonth  Time
//	FixedDate       Date, Time
type Schedule struct {
	Kind       ScheduleKind `json:"scheduleKind"`
	Expression string       `json:"expression,omitempty"`
	Day        *Weekday     `json:"day,omitempty"`
	DayOfMonth *int         `json:"dayOfMonth,omitempty"`
	Date       *Date        `json:"date,omitempty"`
	Time       *TimeOfDay   `json:"time,omitempty"`
}

// CronSchedule fires on a raw 5-field recurrence expression.
func CronSchedule(expression string) Schedule {
	return Schedule{Kind: ScheduleCron, Expression: expression}
}

// DailySchedule fires every day at t.
func DailySchedule(t TimeOfDay) Schedule {
	return Schedule{Kind: ScheduleDaily, Time: &t}
}

// WeeklySchedule fires every week on day at t.
func WeeklySchedule(day time.Weekday, t TimeOfDay) Schedule {
	d := Weekday(day)
	return Schedule{Kind: ScheduleWeekly, Day: &d, Time: &t}
}

// MonthlySchedule fires every month on dayOfMonth at t. Days past the end
// of a short month fire on that month's last day.
func MonthlySchedule(dayOfMonth int, t TimeOfDay) Schedule {
	return Schedule{Kind: ScheduleMonthly, DayOfMonth: &dayOfMonth, Time: &t}
}

// LastDayOfMonthSchedule fires on the last day of every month at t.
func LastDayOfMonthSchedule(t TimeOfDay) Schedule {
	return Schedule{Kind: ScheduleLastDayOfMonth, Time: &t}
}

// FixedDateSchedule fires once on date at t.
func FixedDateSchedule(date Date, t TimeOfDay) Schedule {
	return Schedule{Kind: ScheduleFixedDate, Date: &date, Time: &t}
}

// Validate checks that the fields required by the schedule kind are present.
func (s Schedule) Validate() error {
	var errs ValidationErrors
	missing := func(field string) {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s schedule is missing field '%s'", s.Kind, field),
		})
	}

	switch s.Kind {
	case "":
		errs = append(errs, ValidationError{
			Field:   "scheduleKind",
			Message: "schedule is missing required field 'scheduleKind'",
		})
		return errs
	case ScheduleCron:
		if strings.TrimSpace(s.Expression) == "" {
			missing("expression")
		}
		return errs.orNil()
	case ScheduleDaily, ScheduleLastDayOfMonth:
	case ScheduleWeekly:
		if s.Day == nil {
			missing("day")
		} else if *s.Day < 0 || *s.Day > 6 {
			errs = append(errs, ValidationError{Field: "day", Message: "must be between [0-6]"})
		}
	case ScheduleMonthly:
		if s.DayOfMonth == nil {
			missing("dayOfMonth")
		} else if *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			errs = append(errs, ValidationError{
				Field:   "dayOfMonth",
				Message: fmt.Sprintf("Monthly schedule has invalid value %d for field 'dayOfMonth'. Must be between [1-31].", *s.DayOfMonth),
			})
		}
	case ScheduleFixedDate:
		if s.Date == nil {
			missing("date")
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "scheduleKind",
			Message: fmt.Sprintf("%v: %q", ErrUnknownScheduleKind, s.Kind),
		})
		return errs
	}

	if s.Time == nil {
		missing("time")
	} else if !s.Time.valid() {
		errs = append(errs, ValidationError{Field: "time", Message: fmt.Sprintf("invalid time of day %s", s.Time)})
	}
	return errs.orNil()
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleCron:
		return fmt.Sprintf("Cron(%s)", s.Expression)
	case ScheduleDaily, ScheduleLastDayOfMonth:
		return fmt.Sprintf("%s(%s)", s.Kind, timeString(s.Time))
	case ScheduleWeekly:
		if s.Day == nil {
			return fmt.Sprintf("Weekly(?, %s)", timeString(s.Time))
		}
		return fmt.Sprintf("Weekly(%s, %s)", s.Day, timeString(s.Time))
	case ScheduleMonthly:
		if s.DayOfMonth == nil {
			return fmt.Sprintf("Monthly(?, %s)", timeString(s.Time))
		}
		return fmt.Sprintf("Monthly(%d, %s)", *s.DayOfMonth, timeString(s.Time))
	case ScheduleFixedDate:
		if s.Date == nil {
			return fmt.Sprintf("FixedDate(?, %s)", timeString(s.Time))
		}
		return fmt.Sprintf("FixedDate(%s, %s)", s.Date, timeString(s.Time))
	}
	return string(s.Kind)
}

func timeString(t *TimeOfDay) string {
	if t == nil {
		return "?"
	}
	return t.String()
}
