package scheduler

import (
	"fmt"
	"strings"
)

// RecordError reports a task config whose schedules could not be evaluated.
type RecordError struct {
	ConfigName string
	Checksum   string
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("task config %s: %v", e.ConfigName, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// RecordErrors collects every failed record of one evaluation. Events for
// the healthy records are still returned alongside it.
type RecordErrors []*RecordError

func (e RecordErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d task configs failed evaluation:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e RecordErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}
	return out
}

// ConfigNames lists the failed records.
func (e RecordErrors) ConfigNames() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.ConfigName
	}
	return out
}
