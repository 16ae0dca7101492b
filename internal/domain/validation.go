package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSchedule is returned when a schedule cannot be lowered to
	// recurrence expressions.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrUnknownScheduleKind is returned for a scheduleKind outside the closed set.
	ErrUnknownScheduleKind = errors.New("unknown schedule kind")

	// ErrUnknownTaskKind is returned for a taskKind outside the closed set.
	ErrUnknownTaskKind = errors.New("unknown task kind")
)

// ValidationError describes one invalid field of a config record.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// orNil returns nil for an empty collection so callers can compare against nil.
func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// prefixed returns a copy of e with every field nested under prefix.
func (e ValidationErrors) prefixed(prefix string) ValidationErrors {
	out := make(ValidationErrors, len(e))
	for i, v := range e {
		if v.Field == "" {
			v.Field = prefix
		} else {
			v.Field = prefix + "." + v.Field
		}
		out[i] = v
	}
	return out
}
