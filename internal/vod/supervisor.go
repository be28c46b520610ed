// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

// Runner is one VOD recorder run.
type Runner interface {
	Start(ctx context.Context) error
	Status() Status
}

// Factory builds the recorder for a discovered stream.
type Factory func(stream twitch.Stream) Runner

// Run is an active or finished recorder run.
type Run struct {
	StreamID  string
	Channel   string
	StartedAt time.Time
	Runner    Runner

	// Done is closed when the run settles.
	Done   chan struct{}
	Cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func (r *Run) setError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Error is the terminal error; valid after Done is closed.
func (r *Run) Error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run settles or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.Done:
		return r.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SupervisorOptions configures stream discovery.
type SupervisorOptions struct {
	StreamWaitTimeout  time.Duration
	StreamPollInterval time.Duration
	Clock              clock.Clock
}

// Supervisor keeps at most one recorder per stream id.
type Supervisor struct {
	mu      sync.Mutex
	runs    map[string]*Run
	factory Factory
	status  StatusSource
	opts    SupervisorOptions
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// StatusSource reports the live stream of a channel, nil when offline.
type StatusSource interface {
	StreamStatus(ctx context.Context, channel string) (*twitch.Stream, error)
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(factory Factory, status StatusSource, opts SupervisorOptions) *Supervisor {
	if opts.StreamWaitTimeout <= 0 {
		opts.StreamWaitTimeout = 30 * time.Minute
	}
	if opts.StreamPollInterval <= 0 {
		opts.StreamPollInterval = 20 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Supervisor{
		runs:    make(map[string]*Run),
		factory: factory,
		status:  status,
		opts:    opts,
		log:     log.WithComponent("vod"),
	}
}

// Discover waits for channel to be live and ensures a recorder for its stream.
func (s *Supervisor) Discover(ctx context.Context, channel string) (*Run, error) {
	deadline := s.opts.Clock.Now().Add(s.opts.StreamWaitTimeout)
	for {
		stream, err := s.status.StreamStatus(ctx, channel)
		if err != nil && ctx.Err() == nil {
			s.log.Debug().Err(err).Str(log.FieldChannel, channel).Msg("stream status unavailable")
		}
		if stream != nil {
			run, _ := s.Ensure(ctx, *stream)
			return run, nil
		}
		if !s.opts.Clock.Now().Add(s.opts.StreamPollInterval).Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, channel)
		}
		if err := clock.Sleep(ctx, s.opts.Clock, s.opts.StreamPollInterval); err != nil {
			return nil, err
		}
	}
}

// Ensure starts a recorder for stream unless one is active for its id. It
// reports whether a new run was started.
func (s *Supervisor) Ensure(ctx context.Context, stream twitch.Stream) (*Run, bool) {
	if err := ctx.Err(); err != nil {
		return nil, false
	}

	s.mu.Lock()
	if run, exists := s.runs[stream.ID]; exists {
		select {
		case <-run.Done:
			// settled but not yet removed
			delete(s.runs, stream.ID)
		default:
			s.mu.Unlock()
			s.log.Debug().Str(log.FieldStreamID, stream.ID).Msg("vod recorder already active")
			return run, false
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &Run{
		StreamID:  stream.ID,
		Channel:   stream.UserLogin,
		StartedAt: s.opts.Clock.Now(),
		Runner:    s.factory(stream),
		Done:      make(chan struct{}),
		Cancel:    cancel,
	}
	s.runs[stream.ID] = run
	metrics.SetVodActive(len(s.runs))
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().
		Str(log.FieldStreamID, stream.ID).
		Str(log.FieldChannel, stream.UserLogin).
		Msg("vod recorder started")
	go s.execute(runCtx, run)
	return run, true
}

func (s *Supervisor) execute(ctx context.Context, run *Run) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str(log.FieldStreamID, run.StreamID).
				Interface("panic", r).
				Msg("vod recorder panicked")
			run.setError(fmt.Errorf("panic: %v", r))
		}
		run.Cancel()
		close(run.Done)

		s.mu.Lock()
		if s.runs[run.StreamID] == run {
			delete(s.runs, run.StreamID)
		}
		metrics.SetVodActive(len(s.runs))
		s.mu.Unlock()

		s.log.Info().
			Str(log.FieldStreamID, run.StreamID).
			Err(run.Error()).
			Msg("vod recorder settled")
	}()

	if err := run.Runner.Start(ctx); err != nil {
		run.setError(err)
	}
}

// Get returns the active run for streamID, nil if none.
func (s *Supervisor) Get(streamID string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[streamID]
}

// Active lists the stream ids with a running recorder.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CancelAll stops every active run.
func (s *Supervisor) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info().Int("count", len(s.runs)).Msg("stopping vod recorders")
	for _, run := range s.runs {
		run.Cancel()
	}
}

// Wait blocks until every run has settled.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
