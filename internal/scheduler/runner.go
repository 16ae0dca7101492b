package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	robfig "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/solari23/HarmonyBadger/internal/domain"
	"github.com/solari23/HarmonyBadger/internal/metrics"
	"github.com/solari23/HarmonyBadger/internal/timezone"
)

// DefaultSchedule fires the runner at minute 50 of every hour, which
// evaluates the following full hour ahead of time.
const DefaultSchedule = "50 * * * *"

// TaskSource provides the task configs to evaluate.
type TaskSource interface {
	ScheduledTasks() []domain.ScheduledTask
}

// Publisher hands a trigger event to the task processor, to be delivered
// once delay has elapsed.
type Publisher interface {
	Publish(ctx context.Context, event domain.TriggerEvent, delay time.Duration) error
}

type TriggerEvaluator interface {
	GetTriggeredTasks(tasks []domain.ScheduledTask, startUTC, endUTC time.Time, invocationID string) ([]domain.TriggerEvent, error)
}

type RunnerConfig struct {
	// Schedule is a 5-field expression evaluated in UTC.
	Schedule string
	// RunOnStartup runs once immediately when Run starts.
	RunOnStartup bool
	// ImmediateDelivery publishes every event with no delay.
	ImmediateDelivery bool
	// Zone is used for the local timestamps of the run summary.
	Zone *timezone.Converter
}

// Runner periodically evaluates the next hour of task configs and publishes
// the resulting trigger events.
type Runner struct {
	config    RunnerConfig
	source    TaskSource
	evaluator TriggerEvaluator
	publisher Publisher
	clock     func() time.Time
	metrics   metrics.Sink
	logger    zerolog.Logger

	mu sync.Mutex // serializes runs
}

func NewRunner(config RunnerConfig, source TaskSource, evaluator TriggerEvaluator, publisher Publisher) *Runner {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.Zone == nil {
		config.Zone = timezone.FromLocation(time.UTC)
	}
	return &Runner{
		config:    config,
		source:    source,
		evaluator: evaluator,
		publisher: publisher,
		clock:     time.Now,
		metrics:   metrics.NewNoopSink(),
		logger:    zerolog.Nop(),
	}
}

// WithClock sets the runner's clock.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// WithMetrics sets the metrics sink for the runner.
func (r *Runner) WithMetrics(sink metrics.Sink) *Runner {
	if sink != nil {
		r.metrics = sink
	}
	return r
}

// WithLogger sets the logger for the runner.
func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.logger = logger.With().Str("component", "scheduler").Logger()
	return r
}

// Run fires RunOnce on the configured schedule until ctx is cancelled.
// A run that is still in progress when the next one is due causes that one
// to be skipped.
func (r *Runner) Run(ctx context.Context) error {
	cl := cronLogger{logger: r.logger}
	c := robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithLogger(cl),
		robfig.WithChain(robfig.Recover(cl), robfig.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.config.Schedule, func() { r.runLogged(ctx) }); err != nil {
		return fmt.Errorf("schedule runner %q: %w", r.config.Schedule, err)
	}

	r.logger.Info().Str("schedule", r.config.Schedule).Bool("run_on_startup", r.config.RunOnStartup).Msg("scheduler started")
	if r.config.RunOnStartup {
		r.runLogged(ctx)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	r.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("scheduler run failed")
	}
}

// RunOnce evaluates the window following the current hour and publishes
// every resulting event. Records that fail evaluation and events that fail
// to publish are reported in the summary; neither aborts the run.
func (r *Runner) RunOnce(ctx context.Context) (RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return RunSummary{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.clock()
	now := started.UTC()
	r.metrics.RunStarted()

	tasks := r.source.ScheduledTasks()
	startUTC, endUTC := Window(now)

	summary := RunSummary{
		InvocationID:       uuid.NewString(),
		ExecutionTimeUTC:   now,
		ExecutionTimeLocal: r.config.Zone.ToLocal(now),
		WindowStartLocal:   r.config.Zone.ToLocal(startUTC),
		WindowEndLocal:     r.config.Zone.ToLocal(endUTC),
		LoadedConfigs:      len(tasks),
		EnabledConfigs:     countEnabled(tasks),
		Triggers:           []string{},
	}

	events, evalErr := r.evaluator.GetTriggeredTasks(tasks, startUTC, endUTC, summary.InvocationID)
	var recErrs RecordErrors
	if errors.As(evalErr, &recErrs) {
		summary.FailedRecords = recErrs.ConfigNames()
	} else if evalErr != nil {
		r.metrics.RunCompleted(r.clock().Sub(started), 0, evalErr)
		return summary, fmt.Errorf("evaluate: %w", evalErr)
	}

	for _, event := range events {
		delay := r.delay(event, r.clock().UTC())
		if err := r.publisher.Publish(ctx, event, delay); err != nil {
			summary.FailedEnqueueCount++
			r.metrics.PublishFailed()
			r.logger.Error().Err(err).Str("trigger", event.LogString()).Msg("failed to publish trigger, it will be dropped")
			continue
		}
		summary.Triggers = append(summary.Triggers, event.LogString())
	}

	summary.Duration = r.clock().Sub(started)
	r.metrics.RunCompleted(summary.Duration, len(summary.Triggers), evalErr)
	summary.Log(r.logger)
	return summary, nil
}

func (r *Runner) delay(event domain.TriggerEvent, now time.Time) time.Duration {
	if r.config.ImmediateDelivery || !event.TriggerTimeUTC.After(now) {
		return 0
	}
	return event.TriggerTimeUTC.Sub(now)
}

// Window returns the full UTC hour following the hour containing now.
func Window(now time.Time) (start, end time.Time) {
	start = now.UTC().Truncate(time.Hour).Add(time.Hour)
	return start, start.Add(time.Hour)
}

func countEnabled(tasks []domain.ScheduledTask) int {
	n := 0
	for _, t := range tasks {
		if t.IsEnabled {
			n++
		}
	}
	return n
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
