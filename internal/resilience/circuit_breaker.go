// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards flaky upstream endpoints.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

// State is a breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling the upstream while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after Threshold consecutive failures and lets a single
// probe through once the cooldown has passed. Failures caused by the caller's
// own context ending do not count.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock
	isFailure func(error) bool

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

type Option func(*CircuitBreaker)

func WithClock(c clock.Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithFailureFilter decides which errors count toward opening the breaker.
// Errors it rejects are returned to the caller and reset the failure streak.
func WithFailureFilter(f func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isFailure = f }
}

// NewCircuitBreaker returns a closed breaker. Non-positive values fall back
// to 3 failures and a 30s cooldown.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	cb := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock.Real{},
		isFailure: func(error) bool { return true },
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.ObserveBreaker(name, "", string(StateClosed))
	return cb
}

// Execute calls fn unless the breaker refuses it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.settle(probe, err, ctx.Err() != nil)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.cooldown {
			return false, false
		}
		cb.setState(StateHalfOpen)
	}
	if cb.probing {
		return false, false
	}
	cb.probing = true
	return true, true
}

func (cb *CircuitBreaker) settle(probe bool, err error, callerGone bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	switch {
	case err != nil && callerGone:
		// Nothing learned about the upstream; a half-open probe gets retried.
		return
	case err == nil || !cb.isFailure(err):
		cb.failures = 0
		cb.setState(StateClosed)
	case probe:
		cb.setState(StateOpen)
	default:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.setState(StateOpen)
		}
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	if next == StateOpen {
		cb.openedAt = cb.clock.Now()
		cb.failures = 0
	}
	metrics.ObserveBreaker(cb.name, string(prev), string(next))
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
