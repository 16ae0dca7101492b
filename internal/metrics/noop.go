package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted()                                                   {}
func (n *NoopSink) RunCompleted(duration time.Duration, triggered int, err error) {}
func (n *NoopSink) RecordEvaluationFailed()                                       {}
func (n *NoopSink) PublishFailed()                                                {}
func (n *NoopSink) ConfigsLoaded(count int)                                       {}
func (n *NoopSink) ConfigLoadFailed()                                             {}
func (n *NoopSink) BufferSizeUpdate(size int)                                     {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                {}
func (n *NoopSink) PendingDelayedUpdate(count int)                                {}
func (n *NoopSink) EmitError()                                                    {}
func (n *NoopSink) TaskProcessed(kind, outcome string, d time.Duration)           {}
func (n *NoopSink) TriggerLatencyObserve(latencySeconds float64)                  {}
func (n *NoopSink) EventsInFlightIncr()                                           {}
func (n *NoopSink) EventsInFlightDecr()                                           {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                             {}
func (n *NoopSink) LeaderAcquired()                                               {}
func (n *NoopSink) LeaderLost(reason string)                                      {}
