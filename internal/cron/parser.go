// Package cron parses 5-field recurrence expressions and enumerates their
// fire times.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard 5-field expressions (minute hour dom month dow).
// Descriptors such as @hourly are rejected.
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse compiles expression. The returned Schedule evaluates in the
// location of the instant passed to Next.
func (p *Parser) Parse(expression string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expression, err)
	}
	return &schedule{sched: sched}, nil
}

type Schedule interface {
	// Next returns the first fire time strictly after after, or the zero
	// time if none exists.
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after)
}

// Occurrences returns the fire times t with after < t <= until, in order and
// in after's location. At most limit times are returned when limit > 0.
func Occurrences(s Schedule, after, until time.Time, limit int) []time.Time {
	var out []time.Time
	for t := s.Next(after); !t.IsZero() && !t.After(until); t = s.Next(t) {
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
