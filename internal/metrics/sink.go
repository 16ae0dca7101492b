package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	RunStarted()
	RunCompleted(duration time.Duration, triggered int, err error)
	RecordEvaluationFailed()
	PublishFailed()

	// Task config metrics
	ConfigsLoaded(count int)
	ConfigLoadFailed()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	PendingDelayedUpdate(count int)
	EmitError()

	// Processor metrics
	TaskProcessed(kind string, outcome string, duration time.Duration)
	TriggerLatencyObserve(latencySeconds float64)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for the TaskProcessed metric.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeNoHandler = "no_handler"
)
