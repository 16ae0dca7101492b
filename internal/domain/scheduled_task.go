package domain

import "fmt"

// ScheduledTask is one loaded task config record: a task plus the
// schedules that fire it.
type ScheduledTask struct {
	// ConfigName is the source file name. Not read from the file body.
	ConfigName string `json:"-"`
	// Checksum is the lowercase hex SHA-256 of the source file bytes.
	Checksum string `json:"-"`

	IsEnabled bool       `json:"isEnabled"`
	Schedules []Schedule `json:"schedule"`
	Task      Task       `json:"task"`
}

// Validate checks the record, every schedule and the task payload.
func (st ScheduledTask) Validate() error {
	var errs ValidationErrors

	if len(st.Schedules) == 0 {
		errs = append(errs, ValidationError{
			Field:   "schedule",
			Message: "Schedule config does not define schedules in field 'schedule'",
		})
	}
	for i, s := range st.Schedules {
		if err := s.Validate(); err != nil {
			errs = append(errs, asValidationErrors(err).prefixed(fmt.Sprintf("schedule[%d]", i))...)
		}
	}

	if st.Task.Kind == "" {
		errs = append(errs, ValidationError{
			Field:   "task",
			Message: "Schedule missing details about task to run in field 'task'",
		})
	} else if err := st.Task.Validate(); err != nil {
		errs = append(errs, asValidationErrors(err).prefixed("task")...)
	}

	return errs.orNil()
}

func asValidationErrors(err error) ValidationErrors {
	if ve, ok := err.(ValidationErrors); ok {
		return ve
	}
	return ValidationErrors{{Message: err.Error()}}
}
