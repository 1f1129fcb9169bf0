package gateway

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by every gateway op while the breaker is open.
var ErrCircuitOpen = errors.New("gateway: circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker is a small hand-rolled closed/open/half-open state machine,
// a direct transliteration of the original's pybreaker.CircuitBreaker
// configuration (fail_max=20, reset_timeout=60s). No pybreaker-equivalent
// library appears in any example repo's go.mod, so this is the one
// cross-cutting concern built on nothing but the standard library.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	failMax      int
	resetTimeout time.Duration
	openedAt     time.Time
}

// NewCircuitBreaker builds a breaker with the broker gateway's documented
// thresholds.
func NewCircuitBreaker(failMax int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failMax: failMax, resetTimeout: resetTimeout}
}

// Allow reports whether a call may proceed, transitioning open→half-open
// once resetTimeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = breakerClosed
}

// RecordFailure increments the failure count, opening the breaker once
// failMax consecutive failures have been recorded (a single failure during
// half-open re-opens immediately).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}
	b.failures++
	if b.failures >= b.failMax {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// State reports the breaker's current state label for logging/metrics.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
