package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                               {}
func (n *NoopSink) TickCompleted(duration time.Duration, triggersFired int, err error)         {}
func (n *NoopSink) InvocationAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) InvocationOutcome(outcome string)                                           {}
func (n *NoopSink) RetryAttempt(retryable bool)                                                {}
func (n *NoopSink) EventsInFlightIncr()                                                        {}
func (n *NoopSink) EventsInFlightDecr()                                                        {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                  {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                             {}
func (n *NoopSink) EmitError()                                                                 {}
func (n *NoopSink) StalePendingUpdate(count int)                                               {}
func (n *NoopSink) ComparisonComputed(duration time.Duration)                                  {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                          {}
func (n *NoopSink) LeaderAcquired()                                                            {}
func (n *NoopSink) LeaderLost(reason string)                                                   {}
