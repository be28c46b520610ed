// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lifecycle tells recorders when a channel goes live: a status poller
// that also keeps per-stream statistics, the pubsub websocket and a kafka topic.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/streamkeeper/internal/twitch"
)

// Kind classifies an Event.
type Kind string

const (
	EventWentLive    Kind = "went_live"
	EventWentOffline Kind = "went_offline"
)

// Event is a lifecycle signal for one channel.
type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"type"`
	Channel  string    `json:"channel"`
	StreamID string    `json:"stream_id,omitempty"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}

// NewEvent stamps a new event with a random id.
func NewEvent(kind Kind, channel, streamID, source string, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Channel:  channel,
		StreamID: streamID,
		Source:   source,
		At:       at.UTC(),
	}
}

// Source produces events until ctx ends.
type Source interface {
	Run(ctx context.Context, emit func(Event)) error
}

// StatusSource reports the live stream of a channel, nil when offline.
type StatusSource interface {
	StreamStatus(ctx context.Context, channel string) (*twitch.Stream, error)
}
