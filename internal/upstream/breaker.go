// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package upstream

import (
	"sync"
	"time"

	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/metrics"
)

// CircuitBreaker is the process-global breaker guarding the upstream client.
//
// Semantics are a leaky failure counter rather than a windowed failure rate:
// every failure increments the counter, every success decrements it by one
// (floor zero), and the circuit opens once the counter reaches maxFailures.
// Recovery is checked lazily on the next call once resetTimeout has elapsed;
// there is no half-open probe state.
//
// It is an explicit, injectable object owned by the composition root so
// tests can reset or replace it. All methods are safe for concurrent use;
// the harvest fan-out shares one breaker across its workers.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	openUntil    time.Time

	// now is injectable for tests. Defaults to time.Now.
	now func() time.Time
}

// NewCircuitBreaker creates a breaker that opens at maxFailures failures
// and stays open for resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// WithClock replaces the breaker's clock. Test hook.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// IsOpen reports whether the circuit is open. When the reset timeout has
// elapsed the breaker closes and clears its failure count before returning.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return false
	}
	if b.now().Before(b.openUntil) {
		return true
	}

	// Reset timeout elapsed: close and start from a clean slate.
	logging.Info().Int("failures", b.failures).Msg("circuit breaker closed after reset timeout")
	b.failures = 0
	b.openUntil = time.Time{}
	metrics.CircuitBreakerOpen.Set(0)
	metrics.CircuitBreakerFailures.Set(0)
	return false
}

// RecordFailure increments the failure count and opens the circuit once the
// threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	metrics.CircuitBreakerFailures.Set(float64(b.failures))

	if b.failures >= b.maxFailures && b.openUntil.IsZero() {
		b.openUntil = b.now().Add(b.resetTimeout)
		metrics.CircuitBreakerOpen.Set(1)
		logging.Warn().
			Int("failures", b.failures).
			Time("open_until", b.openUntil).
			Msg("circuit breaker opened")
	}
}

// RecordSuccess decrements the failure count by one, floor zero. Gradual
// recovery: a single success after a failure burst does not instantly
// forgive the burst.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
	}
	metrics.CircuitBreakerFailures.Set(float64(b.failures))
}

// Failures returns the current failure count. Diagnostics only.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// OpenUntil returns the time the circuit stays open until, zero when closed.
func (b *CircuitBreaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}
