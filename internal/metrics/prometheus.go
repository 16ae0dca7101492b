package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	runsTotal               prometheus.Counter
	runErrorsTotal          prometheus.Counter
	triggersTotal           prometheus.Counter
	runDuration             prometheus.Histogram
	recordEvalFailuresTotal prometheus.Counter
	publishFailuresTotal    prometheus.Counter

	// Task config metrics
	configsLoaded           prometheus.Gauge
	configLoadFailuresTotal prometheus.Counter

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	pendingDelayed  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Processor metrics
	tasksProcessedTotal *prometheus.CounterVec
	taskDuration        *prometheus.HistogramVec
	triggerLatency      prometheus.Histogram
	eventsInFlight      prometheus.Gauge

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initConfigMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initProcessorMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_scheduler_runs_total",
		Help: "Total number of scheduler runs.",
	})
	s.runErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_scheduler_run_errors_total",
		Help: "Total number of scheduler runs that reported an error.",
	})
	s.triggersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_scheduler_triggers_total",
		Help: "Total number of trigger events produced by scheduler runs.",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "harmonybadger_scheduler_run_duration_seconds",
		Help:    "Duration of each scheduler run in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.recordEvalFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_scheduler_record_failures_total",
		Help: "Total number of task configs that failed evaluation.",
	})
	s.publishFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_scheduler_publish_failures_total",
		Help: "Total number of trigger events dropped because publishing failed.",
	})

	s.register(reg, s.runsTotal, "harmonybadger_scheduler_runs_total")
	s.register(reg, s.runErrorsTotal, "harmonybadger_scheduler_run_errors_total")
	s.register(reg, s.triggersTotal, "harmonybadger_scheduler_triggers_total")
	s.register(reg, s.runDuration, "harmonybadger_scheduler_run_duration_seconds")
	s.register(reg, s.recordEvalFailuresTotal, "harmonybadger_scheduler_record_failures_total")
	s.register(reg, s.publishFailuresTotal, "harmonybadger_scheduler_publish_failures_total")
}

func (s *PrometheusSink) initConfigMetrics(reg prometheus.Registerer) {
	s.configsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harmonybadger_taskconfig_loaded",
		Help: "Number of task configs in the current snapshot.",
	})
	s.configLoadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_taskconfig_load_failures_total",
		Help: "Total number of task config files that failed to load.",
	})

	s.register(reg, s.configsLoaded, "harmonybadger_taskconfig_loaded")
	s.register(reg, s.configLoadFailuresTotal, "harmonybadger_taskconfig_load_failures_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harmonybadger_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harmonybadger_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.pendingDelayed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harmonybadger_eventbus_pending_delayed",
		Help: "Number of events waiting for their delivery time.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "harmonybadger_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "harmonybadger_eventbus_buffer_capacity")
	s.register(reg, s.pendingDelayed, "harmonybadger_eventbus_pending_delayed")
	s.register(reg, s.emitErrorsTotal, "harmonybadger_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initProcessorMetrics(reg prometheus.Registerer) {
	s.tasksProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harmonybadger_processor_tasks_total",
		Help: "Total number of trigger events handled by the processor.",
	}, []string{"kind", "outcome"})
	s.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harmonybadger_processor_task_duration_seconds",
		Help:    "Task handler latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})
	s.triggerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "harmonybadger_processor_trigger_latency_seconds",
		Help:    "Time between a trigger's scheduled instant and the start of its execution.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harmonybadger_processor_events_in_flight",
		Help: "Number of events currently being processed.",
	})

	s.register(reg, s.tasksProcessedTotal, "harmonybadger_processor_tasks_total")
	s.register(reg, s.taskDuration, "harmonybadger_processor_task_duration_seconds")
	s.register(reg, s.triggerLatency, "harmonybadger_processor_trigger_latency_seconds")
	s.register(reg, s.eventsInFlight, "harmonybadger_processor_events_in_flight")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harmonybadger_leader_status",
		Help: "1 if this instance holds the scheduler lease, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmonybadger_leader_acquired_total",
		Help: "Total number of times this instance acquired the scheduler lease.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harmonybadger_leader_lost_total",
		Help: "Total number of times this instance lost the scheduler lease.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "harmonybadger_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "harmonybadger_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "harmonybadger_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("component", "metrics").Str("metric", name).Msg("failed to register collector")
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) RunStarted() {
	s.runsTotal.Inc()
}

func (s *PrometheusSink) RunCompleted(duration time.Duration, triggered int, err error) {
	s.runDuration.Observe(duration.Seconds())
	s.triggersTotal.Add(float64(triggered))
	if err != nil {
		s.runErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) RecordEvaluationFailed() {
	s.recordEvalFailuresTotal.Inc()
}

func (s *PrometheusSink) PublishFailed() {
	s.publishFailuresTotal.Inc()
}

// Task config metrics implementation

func (s *PrometheusSink) ConfigsLoaded(count int) {
	s.configsLoaded.Set(float64(count))
}

func (s *PrometheusSink) ConfigLoadFailed() {
	s.configLoadFailuresTotal.Inc()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) PendingDelayedUpdate(count int) {
	s.pendingDelayed.Set(float64(count))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Processor metrics implementation

func (s *PrometheusSink) TaskProcessed(kind string, outcome string, duration time.Duration) {
	s.tasksProcessedTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailed {
		s.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) TriggerLatencyObserve(latencySeconds float64) {
	if latencySeconds < 0 {
		latencySeconds = 0
	}
	s.triggerLatency.Observe(latencySeconds)
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
