package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker fast-fails calls to a dependency that keeps erroring.
// After failureThreshold consecutive failures the circuit opens; once the
// cooldown passes a single probe is let through, and successThreshold
// consecutive probe successes close it again.
type CircuitBreaker struct {
	state            atomic.Int32
	failureCount     atomic.Int32
	successCount     atomic.Int32
	lastFailureUnix  atomic.Int64
	failureThreshold int32
	successThreshold int32
	cooldown         time.Duration
}

// New creates a circuit breaker.
func New(failureThreshold, successThreshold int32, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Allow reports whether a call may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case StateClosed, StateHalfOpen:
		return true
	}
	last := time.Unix(0, cb.lastFailureUnix.Load())
	if time.Since(last) > cb.cooldown {
		cb.setState(StateHalfOpen)
		return true
	}
	return false
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	switch cb.State() {
	case StateHalfOpen:
		if cb.successCount.Add(1) >= cb.successThreshold {
			cb.setState(StateClosed)
		}
	case StateClosed:
		cb.failureCount.Store(0)
	}
}

// RecordFailure notes a failed call, possibly tripping the circuit open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.lastFailureUnix.Store(time.Now().UnixNano())

	switch cb.State() {
	case StateClosed:
		if cb.failureCount.Add(1) >= cb.failureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

func (cb *CircuitBreaker) setState(s State) {
	cb.state.Store(int32(s))
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
}
