package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/solari23/HarmonyBadger/internal/cron"
	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/metrics"
	"github.com/solari23/HarmonyBadger/internal/timezone"
)

// DefaultMaxTriggersPerSchedule caps the events one task config may produce
// per evaluation window.
const DefaultMaxTriggersPerSchedule = 4

type CronParser interface {
	Parse(expression string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// Evaluator turns task configs and a UTC window into trigger events.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	parser      CronParser
	conv        *timezone.Converter
	maxTriggers int
	clock       func() time.Time
	metrics     metrics.Sink
	logger      zerolog.Logger
}

// NewEvaluator returns an Evaluator for the zone of conv. A maxTriggers of
// zero or less uses DefaultMaxTriggersPerSchedule.
func NewEvaluator(parser CronParser, conv *timezone.Converter, maxTriggers int) *Evaluator {
	if maxTriggers <= 0 {
		maxTriggers = DefaultMaxTriggersPerSchedule
	}
	return &Evaluator{
		parser:      parser,
		conv:        conv,
		maxTriggers: maxTriggers,
		clock:       time.Now,
		metrics:     metrics.NewNoopSink(),
		logger:      zerolog.Nop(),
	}
}

// WithClock sets the source of evaluation timestamps.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// WithMetrics sets the metrics sink for the evaluator.
func (e *Evaluator) WithMetrics(sink metrics.Sink) *Evaluator {
	if sink != nil {
		e.metrics = sink
	}
	return e
}

// WithLogger sets the logger for the evaluator.
func (e *Evaluator) WithLogger(logger zerolog.Logger) *Evaluator {
	e.logger = logger.With().Str("component", "evaluator").Logger()
	return e
}

// MaxTriggers returns the per-config cap in effect.
func (e *Evaluator) MaxTriggers() int {
	return e.maxTriggers
}

// GetTriggeredTasks returns one event per distinct fire instant of every
// enabled task in [startUTC, endUTC). Events are grouped by task in input
// order and sorted by time within a task.
//
// A task whose schedules cannot be evaluated contributes no events; it is
// reported in the returned RecordErrors while the other tasks' events are
// still returned.
func (e *Evaluator) GetTriggeredTasks(
	tasks []domain.ScheduledTask,
	startUTC, endUTC time.Time,
	invocationID string,
) ([]domain.TriggerEvent, error) {
	evaluatedAt := e.clock().UTC()

	// Lowering resolves the year from the unshifted window start.
	ref := e.conv.ToLocal(startUTC)

	// Occurrence search is start-exclusive and end-inclusive, so shifting
	// both bounds back a second makes the window [start, end).
	startLocal := ref.Add(-time.Second)
	endLocal := e.conv.ToLocal(endUTC).Add(-time.Second)

	var events []domain.TriggerEvent
	var errs RecordErrors

	for _, task := range tasks {
		if !task.IsEnabled {
			continue
		}

		fireTimes, err := e.fireTimes(task, ref, startLocal, endLocal)
		if err != nil {
			e.metrics.RecordEvaluationFailed()
			e.logger.Warn().
				Err(err).
				Str("config", task.ConfigName).
				Str("invocation_id", invocationID).
				Msg("skipping task config that failed evaluation")
			errs = append(errs, &RecordError{ConfigName: task.ConfigName, Checksum: task.Checksum, Err: err})
			continue
		}

		for _, t := range fireTimes {
			events = append(events, domain.TriggerEvent{
				TriggerID:              domain.NewTriggerID(task.Checksum, t),
				TriggerTimeUTC:         t,
				ScheduleConfigName:     task.ConfigName,
				ScheduleConfigChecksum: task.Checksum,
				EvaluatingInvocationID: invocationID,
				EvaluationTimeUTC:      evaluatedAt,
				Task:                   task.Task,
			})
		}

		e.logger.Debug().
			Str("config", task.ConfigName).
			Int("triggers", len(fireTimes)).
			Msg("evaluated task config")
	}

	if len(errs) > 0 {
		return events, errs
	}
	return events, nil
}

// fireTimes returns the distinct UTC fire instants of one task inside the
// shifted local window, capped at maxTriggers.
func (e *Evaluator) fireTimes(task domain.ScheduledTask, ref, startLocal, endLocal time.Time) ([]time.Time, error) {
	var local []time.Time

	for i, sched := range task.Schedules {
		exprs, err := sched.CronExpressions(ref)
		if err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		for _, expr := range exprs {
			cs, err := e.parser.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("schedule[%d]: %w", i, err)
			}
			// Every expression contributes at most maxTriggers, so the cap
			// after merging still keeps the earliest instants.
			local = append(local, cron.Occurrences(cs, startLocal, endLocal, e.maxTriggers)...)
		}
	}

	slices.SortFunc(local, func(a, b time.Time) int { return a.Compare(b) })
	if len(local) > e.maxTriggers {
		local = local[:e.maxTriggers]
	}

	out := make([]time.Time, 0, len(local))
	for _, t := range local {
		utc := e.conv.ToUTC(t)
		if n := len(out); n > 0 && out[n-1].Equal(utc) {
			continue
		}
		out = append(out, utc)
	}
	return out, nil
}
