package metrics

import (
	"errors"
	"testing"
	"time"
)

// NoopSink must implement the full Sink interface and do nothing.
func TestNoopSink_AllMethods(t *testing.T) {
	var sink Sink = NewNoopSink()

	sink.TickStarted()
	sink.TickCompleted(time.Second, 3, errors.New("ignored"))
	sink.InvocationAttemptCompleted(1, StatusClass2xx, time.Millisecond)
	sink.InvocationOutcome(OutcomeSuccess)
	sink.RetryAttempt(true)
	sink.EventsInFlightIncr()
	sink.EventsInFlightDecr()
	sink.BufferSizeUpdate(10)
	sink.BufferCapacitySet(100)
	sink.EmitError()
	sink.StalePendingUpdate(5)
	sink.ComparisonComputed(time.Millisecond)
	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	sink.LeaderLost("shutdown")
}
