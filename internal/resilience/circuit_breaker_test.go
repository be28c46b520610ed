// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/clock"
)

var (
	errUpstream = errors.New("upstream down")
	errOffline  = errors.New("channel offline")
)

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("token_threshold", 2, time.Minute, WithClock(clock.NewFake(time.Now())))

	require.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerSuccessResetsStreak(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("token_streak", 2, time.Minute)

	require.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, ok))
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{name: "recovers", probe: ok, want: StateClosed},
		{name: "reopens", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c := clock.NewFake(time.Now())
			cb := NewCircuitBreaker("token_probe_"+tt.name, 1, time.Minute, WithClock(c))

			require.Error(t, cb.Execute(ctx, fail))
			c.Advance(30 * time.Second)
			require.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen, "still cooling down")

			c.Advance(time.Minute)
			_ = cb.Execute(ctx, tt.probe)
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestCircuitBreakerSingleProbe(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Now())
	cb := NewCircuitBreaker("token_single_probe", 1, time.Minute, WithClock(c))
	require.Error(t, cb.Execute(ctx, fail))
	c.Advance(2 * time.Minute)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("token_cancel", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerFailureFilter(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("token_filter", 1, time.Minute,
		WithFailureFilter(func(err error) bool { return !errors.Is(err, errOffline) }))

	require.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return errOffline }), errOffline)
	assert.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
}
