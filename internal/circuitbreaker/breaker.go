package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CallFailedError is returned by Call when the protected function ran and failed.
type CallFailedError struct {
	Err error
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("call failed: %v", e.Err)
}

func (e *CallFailedError) Unwrap() error {
	return e.Err
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateListener is notified after every state transition, outside the breaker lock.
type StateListener func(from, to State)

type CircuitBreaker struct {
	failureThreshold int
	timeout          time.Duration

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
	listener      StateListener
	now           func() time.Time
}

func New(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

func (cb *CircuitBreaker) OnStateChange(listener StateListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listener = listener
}

// ShouldAttempt reports whether a call may proceed. When the breaker is open
// and the timeout has elapsed it moves to half-open and admits one trial call;
// other callers are rejected until that trial records its outcome.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	var transition func()
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.timeout {
			transition = cb.setStateLocked(StateHalfOpen)
			cb.trialInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			allowed = true
		}
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
	return allowed
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var transition func()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.failures = 0
		cb.trialInFlight = false
		transition = cb.setStateLocked(StateClosed)
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var transition func()

	switch cb.state {
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.openedAt = cb.now()
		transition = cb.setStateLocked(StateOpen)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.openedAt = cb.now()
			transition = cb.setStateLocked(StateOpen)
		}
	case StateOpen:
		cb.openedAt = cb.now()
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// ReleaseTrial frees the half-open trial slot without recording an outcome.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

// Call runs fn if the breaker admits it. The breaker lock is never held while
// fn runs.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	_, err := Execute(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute is the value-returning form of Call. It returns ErrCircuitOpen
// without invoking fn when the breaker rejects the call, and wraps fn's error
// in *CallFailedError otherwise. A call abandoned because the caller cancelled
// ctx records neither success nor failure.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.ShouldAttempt() {
		return zero, ErrCircuitOpen
	}

	v, err := fn(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			cb.ReleaseTrial()
			return zero, &CallFailedError{Err: err}
		}
		cb.RecordFailure()
		return zero, &CallFailedError{Err: err}
	}

	cb.RecordSuccess()
	return v, nil
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateOpen
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = 0
	cb.trialInFlight = false
	transition := cb.setStateLocked(StateClosed)
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// setStateLocked must be called with mu held. It returns the listener
// notification to run once the lock is released, or nil if nothing changed.
func (cb *CircuitBreaker) setStateLocked(next State) func() {
	prev := cb.state
	if prev == next {
		return nil
	}
	cb.state = next
	listener := cb.listener
	if listener == nil {
		return nil
	}
	return func() { listener(prev, next) }
}
