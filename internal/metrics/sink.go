package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, triggersFired int, err error)

	// Dispatcher metrics
	InvocationAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	InvocationOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Reconciler metrics
	StalePendingUpdate(count int)

	// Comparison metrics
	ComparisonComputed(duration time.Duration)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for InvocationOutcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// StatusClass constants for InvocationAttemptCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return StatusClassTimeout
		}
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial") {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
