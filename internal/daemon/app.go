// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/streamkeeper/internal/lifecycle"
	"github.com/ManuGH/streamkeeper/internal/log"
)

const publishTimeout = 5 * time.Second

// eventPublisher forwards locally observed lifecycle events.
type eventPublisher interface {
	Publish(ctx context.Context, ev lifecycle.Event) error
}

// vodTracker is the daemon-wide view of VOD runs.
type vodTracker interface {
	Active() []string
	CancelAll()
	Wait()
}

// App owns the per-channel runtimes and event routing, and delegates the
// ops server and shutdown sequence to Manager.
type App struct {
	logger  zerolog.Logger
	manager Manager

	channels map[string]*channelRuntime
	order    []*channelRuntime

	// remote sources feed events observed elsewhere; they are never republished.
	remote    []lifecycle.Source
	publisher eventPublisher
	vod       vodTracker
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager) *App {
	return &App{
		logger:   logger,
		manager:  manager,
		channels: make(map[string]*channelRuntime),
	}
}

func (a *App) addChannel(rt *channelRuntime) {
	a.channels[strings.ToLower(rt.name)] = rt
	a.order = append(a.order, rt)
}

// RecorderStatus reports live recorder snapshots and active VOD runs.
func (a *App) RecorderStatus() RecorderStatus {
	st := RecorderStatus{Channels: make([]ChannelStatus, 0, len(a.order)), Vod: []string{}}
	for _, rt := range a.order {
		st.Channels = append(st.Channels, rt.status())
	}
	if a.vod != nil {
		st.Vod = append(st.Vod, a.vod.Active()...)
	}
	sort.Strings(st.Vod)
	return st
}

// Run starts every source and the manager, and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	local := func(ev lifecycle.Event) { a.dispatch(ctx, ev, true) }
	remote := func(ev lifecycle.Event) { a.dispatch(ctx, ev, false) }

	for _, rt := range a.order {
		rt := rt
		for _, src := range rt.sources {
			src := src
			g.Go(func() error { return a.runSource(ctx, rt.logger, src, local) })
		}
		for _, task := range rt.tasks {
			task := task
			g.Go(func() error {
				if err := task.Run(ctx); err != nil && ctx.Err() == nil {
					rt.logger.Warn().Err(err).Msg("channel task stopped")
				}
				return nil
			})
		}
	}
	for _, src := range a.remote {
		src := src
		g.Go(func() error { return a.runSource(ctx, a.logger, src, remote) })
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

func (a *App) runSource(ctx context.Context, logger zerolog.Logger, src lifecycle.Source, emit func(lifecycle.Event)) error {
	err := src.Run(ctx, emit)
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("lifecycle source stopped")
	}
	return nil
}

func (a *App) dispatch(ctx context.Context, ev lifecycle.Event, publish bool) {
	rt, ok := a.channels[strings.ToLower(ev.Channel)]
	if !ok {
		a.logger.Debug().Str(log.FieldChannel, ev.Channel).Msg("event for unconfigured channel")
		return
	}
	rt.handle(ctx, ev)

	if !publish || a.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := a.publisher.Publish(pubCtx, ev); err != nil {
		rt.logger.Warn().Err(err).Str(log.FieldEvent, string(ev.Kind)).Msg("event publish failed")
	}
}

// drain stops VOD runs and waits for every recorder goroutine.
func (a *App) drain(ctx context.Context) error {
	if a.vod != nil {
		a.vod.CancelAll()
	}
	var errs []error
	for _, rt := range a.order {
		if err := rt.wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.vod != nil {
		done := make(chan struct{})
		go func() {
			a.vod.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	return errors.Join(errs...)
}
