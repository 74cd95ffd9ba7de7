// Package circuitbreaker guards the function gateway against endpoints
// that fail persistently. State is tracked per endpoint URL.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type endpointState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		endpoints: make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a call to endpoint may proceed. After the cooldown
// an open circuit admits a single probe (half-open); the probe's outcome
// decides whether the circuit closes again.
func (cb *CircuitBreaker) Allow(endpoint string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		s = &endpointState{}
		cb.endpoints[endpoint] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}
