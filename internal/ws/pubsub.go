// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

// PubSubURL is the platform's event endpoint.
const PubSubURL = "wss://pubsub-edge.twitch.tv/v1"

// Identity resolves what a pubsub subscription needs.
type Identity interface {
	UserByLogin(ctx context.Context, login string) (*twitch.User, error)
	AppAccessToken(ctx context.Context) (string, error)
}

// liveTopics signal that a broadcast started or changed.
var liveTopics = []string{"video-playback-by-id", "broadcast-settings-update"}

// eventTopics are only subscribed when events are archived.
var eventTopics = []string{
	"hype-train-events-v1",
	"leaderboard-events-v1.sub-gifts-sent",
	"leaderboard-events-v1.bits-usage-by-channel-v1",
	"stream-chat-room-v1",
	"community-points-channel-v1",
	"extension-control",
	"stream-change-by-channel",
	"channel-squad-updates",
	"celebration-events-v1",
	"channel-bounty-board-events.cta",
	"raid",
	"channel-cheer-events-public-v1",
	"polls",
	"channel-sub-gifts-v1",
	"channel-drop-events",
	"pv-watch-party-events",
}

// PubSub listens to a channel's topics and reports when it goes live.
type PubSub struct {
	Channel  string
	Identity Identity
	// AllTopics also subscribes the event topics that are only archived.
	AllTopics bool
	// OnLive is called for every message on a live topic.
	OnLive func()

	logger zerolog.Logger

	mu     sync.Mutex
	userID string
}

// NewPubSub creates the pubsub protocol for channel.
func NewPubSub(channel string, identity Identity, allTopics bool, onLive func()) *PubSub {
	return &PubSub{
		Channel:   channel,
		Identity:  identity,
		AllTopics: allTopics,
		OnLive:    onLive,
		logger:    log.WithChannel("pubsub", channel),
	}
}

// Topics lists the subscriptions for userID.
func (p *PubSub) Topics(userID string) []string {
	out := make([]string, 0, len(liveTopics)+len(eventTopics))
	for _, t := range liveTopics {
		out = append(out, t+"."+userID)
	}
	if !p.AllTopics {
		return out
	}
	for _, t := range eventTopics {
		switch t {
		case "leaderboard-events-v1.sub-gifts-sent":
			out = append(out, t+"-"+userID)
		case "leaderboard-events-v1.bits-usage-by-channel-v1":
			out = append(out, t+"-"+userID+"-WEEK")
		default:
			out = append(out, t+"."+userID)
		}
	}
	return out
}

type listenRequest struct {
	Type  string     `json:"type"`
	Nonce string     `json:"nonce"`
	Data  listenData `json:"data"`
}

type listenData struct {
	AuthToken string   `json:"auth_token"`
	Topics    []string `json:"topics"`
}

type frame struct {
	Type string `json:"type"`
	Data struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	} `json:"data"`
}

func (p *PubSub) OnOpen(ctx context.Context, c Conn) error {
	user, err := p.Identity.UserByLogin(ctx, p.Channel)
	if err != nil {
		return fmt.Errorf("pubsub user lookup: %w", err)
	}
	token, err := p.Identity.AppAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("pubsub token: %w", err)
	}
	p.mu.Lock()
	p.userID = user.ID
	p.mu.Unlock()

	for _, topic := range p.Topics(user.ID) {
		req := listenRequest{
			Type:  "LISTEN",
			Nonce: "NONCE" + topic,
			Data:  listenData{AuthToken: token, Topics: []string{topic}},
		}
		raw, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if err := c.Send(string(raw)); err != nil {
			return fmt.Errorf("listen %s: %w", topic, err)
		}
	}
	p.logger.Info().Str(log.FieldUserID, user.ID).Msg("pubsub topics subscribed")
	return nil
}

func (p *PubSub) Ping(c Conn) error {
	return c.Send(`{"type":"PING"}`)
}

func (p *PubSub) IsPong(msg string) bool {
	var f frame
	if err := json.Unmarshal([]byte(msg), &f); err != nil {
		return false
	}
	return f.Type == "PONG"
}

func (p *PubSub) OnMessage(_ context.Context, _ Conn, msg string) {
	var f frame
	if err := json.Unmarshal([]byte(msg), &f); err != nil || f.Data.Topic == "" {
		return
	}
	p.mu.Lock()
	userID := p.userID
	p.mu.Unlock()

	for _, t := range liveTopics {
		if f.Data.Topic == t+"."+userID {
			p.logger.Info().Str("topic", f.Data.Topic).Msg("live topic message")
			if p.OnLive != nil {
				p.OnLive()
			}
			return
		}
	}
	if strings.HasPrefix(f.Type, "RESPONSE") {
		p.logger.Debug().Str("raw", msg).Msg("pubsub response")
	}
}
