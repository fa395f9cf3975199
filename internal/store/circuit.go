package store

import (
	"sync/atomic"
	"time"
)

// CircuitState represents breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitOptions configures breaker thresholds.
type CircuitOptions struct {
	FailureThreshold int64
	OpenDuration     time.Duration
	HalfOpenMaxCalls int64
}

// CircuitBreaker decides whether calls may go to the shared store.
type CircuitBreaker struct {
	state            atomic.Int32
	openUntil        atomic.Int64
	failures         atomic.Int64
	halfOpenInFlight atomic.Int64
	opts             CircuitOptions
	now              func() time.Time
}

// NewCircuitBreaker constructs a breaker with defaults.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 10 * time.Second
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 1
	}
	cb := &CircuitBreaker{opts: opts, now: time.Now}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// State reports the current state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Allow reports whether the call should proceed.
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().UnixNano() < cb.openUntil.Load() {
			return false
		}
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.halfOpenInFlight.Store(0)
		}
		return cb.allowHalfOpen()
	case CircuitHalfOpen:
		return cb.allowHalfOpen()
	default:
		return true
	}
}

func (cb *CircuitBreaker) allowHalfOpen() bool {
	if cb.halfOpenInFlight.Add(1) <= cb.opts.HalfOpenMaxCalls {
		return true
	}
	cb.halfOpenInFlight.Add(-1)
	return false
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess() {
	switch cb.State() {
	case CircuitHalfOpen:
		cb.halfOpenInFlight.Add(-1)
		cb.failures.Store(0)
		cb.state.Store(int32(CircuitClosed))
	case CircuitClosed:
		cb.failures.Store(0)
	}
}

// OnFailure records a failure and updates state.
func (cb *CircuitBreaker) OnFailure() {
	if cb.State() == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		cb.Trip()
		return
	}
	if cb.failures.Add(1) >= cb.opts.FailureThreshold {
		cb.Trip()
	}
}

// Release gives back a call allowed by Allow without recording a result.
func (cb *CircuitBreaker) Release() {
	if cb.State() == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
	}
}

// Trip opens the breaker immediately.
func (cb *CircuitBreaker) Trip() {
	cb.failures.Store(cb.opts.FailureThreshold)
	cb.openUntil.Store(cb.now().Add(cb.opts.OpenDuration).UnixNano())
	cb.state.Store(int32(CircuitOpen))
}
