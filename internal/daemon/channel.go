// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/lifecycle"
	"github.com/ManuGH/streamkeeper/internal/live"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/vod"
)

// liveRecorder is the per-channel live recorder.
type liveRecorder interface {
	Start(ctx context.Context) error
	Snapshot() live.Snapshot
}

// vodDiscoverer starts VOD recording for the current stream of a channel.
type vodDiscoverer interface {
	Discover(ctx context.Context, channel string) (*vod.Run, error)
}

// runner is a long-lived per-channel task, such as the chat driver.
type runner interface {
	Run(ctx context.Context) error
}

// channelRuntime owns everything configured for one channel.
type channelRuntime struct {
	name       string
	components []config.Component

	live    liveRecorder
	vod     vodDiscoverer
	sources []lifecycle.Source
	tasks   []runner

	logger zerolog.Logger
	wg     sync.WaitGroup
}

func newChannelRuntime(cfg config.ChannelConfig) *channelRuntime {
	return &channelRuntime{
		name:       cfg.Name,
		components: cfg.Components,
		logger:     log.WithChannel("daemon", cfg.Name),
	}
}

// handle reacts to a lifecycle event. Recorders run on ctx in their own goroutines.
func (c *channelRuntime) handle(ctx context.Context, ev lifecycle.Event) {
	if ev.Kind != lifecycle.EventWentLive {
		c.logger.Debug().
			Str(log.FieldEvent, string(ev.Kind)).
			Str(log.FieldSource, ev.Source).
			Msg("lifecycle event ignored")
		return
	}
	c.logger.Info().
		Str(log.FieldEvent, string(ev.Kind)).
		Str(log.FieldSource, ev.Source).
		Str(log.FieldStreamID, ev.StreamID).
		Msg("channel went live")

	if c.live != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.live.Start(ctx)
			switch {
			case errors.Is(err, live.ErrNotIdle):
				c.logger.Debug().Msg("live recorder already running")
			case err != nil && ctx.Err() == nil:
				c.logger.Warn().Err(err).Msg("live session failed")
			}
		}()
	}

	if c.vod != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := c.vod.Discover(ctx, c.name); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("vod discovery failed")
			}
		}()
	}
}

// wait blocks until every recorder goroutine started by handle has returned or ctx ends.
func (c *channelRuntime) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChannelStatus is the /api/v1/recorders view of a channel.
type ChannelStatus struct {
	Channel    string             `json:"channel"`
	Components []config.Component `json:"components"`
	Live       *live.Snapshot     `json:"live,omitempty"`
}

func (c *channelRuntime) status() ChannelStatus {
	st := ChannelStatus{Channel: c.name, Components: c.components}
	if c.live != nil {
		snap := c.live.Snapshot()
		st.Live = &snap
	}
	return st
}
