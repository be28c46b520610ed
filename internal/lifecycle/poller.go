// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/archive"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

// PollerOptions configures a Poller.
type PollerOptions struct {
	Channel  string
	Interval time.Duration
	// WriteStats keeps root/stream/YYYY/MM/<streamID>/ up to date.
	WriteStats bool
	Layout     archive.Layout
	Clock      clock.Clock
}

// Poller queries the stream status on an interval and reports transitions.
type Poller struct {
	status StatusSource
	opts   PollerOptions
	logger zerolog.Logger

	current *twitch.Stream
	dir     string
}

// NewPoller creates a Poller for one channel.
func NewPoller(status StatusSource, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Poller{
		status: status,
		opts:   opts,
		logger: log.WithChannel("stats", opts.Channel),
	}
}

// Run polls until ctx ends.
func (p *Poller) Run(ctx context.Context, emit func(Event)) error {
	for {
		p.Poll(ctx, emit)
		if err := clock.Sleep(ctx, p.opts.Clock, p.opts.Interval); err != nil {
			return err
		}
	}
}

// Poll performs one status query. Errors keep the previous state.
func (p *Poller) Poll(ctx context.Context, emit func(Event)) {
	stream, err := p.status.StreamStatus(ctx, p.opts.Channel)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("stream status poll failed")
		}
		return
	}
	now := p.opts.Clock.Now()

	switch {
	case stream == nil && p.current != nil:
		p.logger.Info().Str(log.FieldStreamID, p.current.ID).Msg("stream went offline")
		p.writeClosed(now)
		emit(NewEvent(EventWentOffline, p.opts.Channel, p.current.ID, "poller", now))
		p.current = nil
		p.dir = ""
	case stream == nil:
		return
	case p.current == nil || p.current.ID != stream.ID:
		p.logger.Info().Str(log.FieldStreamID, stream.ID).Str("title", stream.Title).Msg("stream went live")
		p.openStats(stream, now)
		p.current = stream
		emit(NewEvent(EventWentLive, p.opts.Channel, stream.ID, "poller", now))
		p.appendStat("viewcount.txt", now, fmt.Sprint(stream.ViewerCount))
	default:
		if stream.Title != p.current.Title {
			p.appendStat("title.txt", now, stream.Title)
		}
		if stream.GameID != p.current.GameID {
			p.appendStat("game.txt", now, stream.GameID+" "+stream.GameName)
		}
		p.current = stream
		p.appendStat("viewcount.txt", now, fmt.Sprint(stream.ViewerCount))
	}
}

// Current returns the stream seen by the last successful poll.
func (p *Poller) Current() *twitch.Stream { return p.current }

func (p *Poller) openStats(stream *twitch.Stream, now time.Time) {
	if !p.opts.WriteStats {
		return
	}
	start := stream.StartedAt
	if start.IsZero() {
		start = now
	}
	p.dir = p.opts.Layout.Dir(archive.KindStream, start, stream.ID)

	raw := []byte(stream.Raw)
	if len(raw) == 0 {
		raw, _ = json.Marshal(stream)
	}
	if err := archive.WriteJSON(filepath.Join(p.dir, "info.json"), raw); err != nil {
		p.logger.Warn().Err(err).Msg("stream info write failed")
	}
	p.appendStat("title.txt", now, stream.Title)
	p.appendStat("game.txt", now, stream.GameID+" "+stream.GameName)
}

func (p *Poller) appendStat(name string, now time.Time, value string) {
	if p.dir == "" {
		return
	}
	line := now.UTC().Format(time.RFC3339Nano) + " " + value
	if err := archive.AppendLine(filepath.Join(p.dir, name), line); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldPath, name).Msg("stats write failed")
	}
}

func (p *Poller) writeClosed(now time.Time) {
	if p.dir == "" {
		return
	}
	path := filepath.Join(p.dir, "closed.txt")
	if err := archive.WriteFile(path, []byte(now.UTC().Format(time.RFC3339Nano))); err != nil {
		p.logger.Warn().Err(err).Msg("closed marker write failed")
	}
}
