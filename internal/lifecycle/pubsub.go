// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"

	"github.com/ManuGH/streamkeeper/internal/archive"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/ws"
)

// PubSubSource turns live-topic messages into EventWentLive.
type PubSubSource struct {
	Channel  string
	Identity ws.Identity
	// Events archives every raw message when set and subscribes all topics.
	Events  *archive.DailyLog
	Options ws.Options
	Clock   clock.Clock
}

func (s *PubSubSource) Run(ctx context.Context, emit func(Event)) error {
	c := s.Clock
	if c == nil {
		c = clock.Real{}
	}
	proto := ws.NewPubSub(s.Channel, s.Identity, s.Events != nil, func() {
		emit(NewEvent(EventWentLive, s.Channel, "", "pubsub", c.Now()))
	})

	opts := s.Options
	if opts.URL == "" {
		opts.URL = ws.PubSubURL
	}
	if s.Events != nil {
		opts.Log = s.Events
		defer func() { _ = s.Events.Close() }()
	}
	return ws.NewDriver("pubsub", proto, opts).Run(ctx)
}
