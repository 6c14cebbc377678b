// Package retry implements exponential-backoff retry with jitter, wrapped
// around a circuit breaker state machine.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"polymarket-mm/pkg/clobtypes"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreaker prevents cascading failures by short-circuiting calls once
// a failure threshold is reached, probing recovery after a timeout.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	timeout          time.Duration
	failures         int
	lastFailure      time.Time
	state            State
}

// NewCircuitBreaker constructs a breaker named name.
func NewCircuitBreaker(name string, failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            StateClosed,
	}
}

// Call invokes fn under breaker protection. The breaker's lock is held
// across every state read/write (including the OPEN→HALF_OPEN timeout
// check) to avoid race-condition transitions between goroutines.
func (b *CircuitBreaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
		} else {
			b.mu.Unlock()
			return clobtypes.New(clobtypes.KindCircuitOpen, "circuit breaker "+b.name+" is open", nil)
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.failures = 0
		}
		return nil
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
	} else if b.state == StateHalfOpen {
		b.state = StateOpen
	}
	return err
}

// Reset forces the breaker back to CLOSED with a zeroed failure count.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.state = StateClosed
}

// State reports the current breaker state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures reports the current failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Strategy configures exponential-backoff retry, optionally wrapping a
// CircuitBreaker.
type Strategy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ExponentialBase  float64
	Jitter           bool
	Breaker          *CircuitBreaker
}

func (s Strategy) calculateDelay(attempt int) time.Duration {
	base := s.ExponentialBase
	if base == 0 {
		base = 2.0
	}
	delay := float64(s.BaseDelay) * pow(base, attempt)
	if s.MaxDelay > 0 && time.Duration(delay) > s.MaxDelay {
		delay = float64(s.MaxDelay)
	}
	if s.Jitter {
		jitterAmount := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitterAmount
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	r := 1.0
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

// shouldRetry reports whether err should trigger another attempt, per the
// retryable taxonomy: connection errors, timeouts, transient API errors,
// and rate-limit errors are retried; validation, authentication, and
// circuit-open errors never are.
func shouldRetry(err error, attempt, maxRetries int) bool {
	if attempt >= maxRetries {
		return false
	}
	if clobtypes.Is(err, clobtypes.KindCircuitOpen) {
		return false
	}
	return clobtypes.Retryable(err)
}

// Execute runs fn, retrying on retryable errors with exponential backoff
// and jitter, through the breaker if one is configured.
func (s Strategy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		var err error
		if s.Breaker != nil {
			err = s.Breaker.Call(fn)
		} else {
			err = fn()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err, attempt, s.MaxRetries) {
			return err
		}

		delay := s.calculateDelay(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
