// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/streamkeeper/internal/twitch"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.lines = append(r.lines, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recorder) WriteLine(line string) error {
	r.add(line)
	return nil
}

func runDriver(t *testing.T, d *Driver) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func TestChatHandshakeAndServerPing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	got := &recorder{}
	srv := httptest.NewServer(websocket.Handler(func(c *websocket.Conn) {
		for i := 0; i < 3; i++ {
			var msg string
			if websocket.Message.Receive(c, &msg) != nil {
				return
			}
			got.add(msg)
		}
		_ = websocket.Message.Send(c, "PING :tmi.twitch.tv")
		var msg string
		if websocket.Message.Receive(c, &msg) == nil {
			got.add(msg)
		}
		_ = websocket.Message.Receive(c, &msg)
	}))
	defer srv.Close()

	raw := &recorder{}
	d := NewDriver("chat", &Chat{Channel: "SomeChannel"}, Options{URL: wsURL(srv), Log: raw})
	cancel, done := runDriver(t, d)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 4 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"NICK " + anonymousNick,
		"JOIN #somechannel",
		"PONG :tmi.twitch.tv",
	}, got.snapshot())
	assert.Equal(t, []string{"PING :tmi.twitch.tv"}, raw.snapshot())
}

func TestChatAuthenticated(t *testing.T) {
	var sent []string
	conn := connFunc(func(s string) error { sent = append(sent, s); return nil })
	c := &Chat{Channel: "somechannel", Username: "Archiver", OAuth: "oauth:abc"}
	require.NoError(t, c.OnOpen(context.Background(), conn))
	assert.Equal(t, []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS oauth:abc",
		"NICK archiver",
		"JOIN #somechannel",
	}, sent)
	assert.True(t, c.IsPong(":tmi.twitch.tv PONG tmi.twitch.tv :tmi.twitch.tv"))
	assert.True(t, c.IsPong("PONG"))
	assert.False(t, c.IsPong("PRIVMSG #somechannel :PONG"))
}

type connFunc func(string) error

func (f connFunc) Send(s string) error { return f(s) }

type fakeIdentity struct{}

func (fakeIdentity) UserByLogin(_ context.Context, login string) (*twitch.User, error) {
	return &twitch.User{ID: "77", Login: login}, nil
}

func (fakeIdentity) AppAccessToken(context.Context) (string, error) { return "app-token", nil }

func TestPubSubListensAndSignalsLive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var listens recorder
	srv := httptest.NewServer(websocket.Handler(func(c *websocket.Conn) {
		for i := 0; i < 2; i++ {
			var msg string
			if websocket.Message.Receive(c, &msg) != nil {
				return
			}
			listens.add(msg)
		}
		_ = websocket.Message.Send(c, `{"type":"MESSAGE","data":{"topic":"raid.77","message":"{}"}}`)
		_ = websocket.Message.Send(c, `{"type":"MESSAGE","data":{"topic":"video-playback-by-id.77","message":"{\"type\":\"stream-up\"}"}}`)
		var msg string
		_ = websocket.Message.Receive(c, &msg)
	}))
	defer srv.Close()

	var lives atomic.Int32
	p := NewPubSub("somechannel", fakeIdentity{}, false, func() { lives.Add(1) })
	cancel, done := runDriver(t, NewDriver("pubsub", p, Options{URL: wsURL(srv)}))

	require.Eventually(t, func() bool { return lives.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	var first listenRequest
	require.NoError(t, json.Unmarshal([]byte(listens.snapshot()[0]), &first))
	assert.Equal(t, "LISTEN", first.Type)
	assert.Equal(t, "app-token", first.Data.AuthToken)
	assert.Equal(t, []string{"video-playback-by-id.77"}, first.Data.Topics)
}

func TestPubSubTopics(t *testing.T) {
	p := NewPubSub("somechannel", fakeIdentity{}, true, nil)
	topics := p.Topics("77")
	assert.Len(t, topics, 18)
	assert.Contains(t, topics, "broadcast-settings-update.77")
	assert.Contains(t, topics, "leaderboard-events-v1.sub-gifts-sent-77")
	assert.Contains(t, topics, "leaderboard-events-v1.bits-usage-by-channel-v1-77-WEEK")
	assert.Contains(t, topics, "raid.77")

	assert.True(t, p.IsPong(`{ "type": "PONG" }`))
	assert.False(t, p.IsPong(`{"type":"RECONNECT"}`))
}

func TestDriverReconnectsAfterPongTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var conns atomic.Int32
	srv := httptest.NewServer(websocket.Handler(func(c *websocket.Conn) {
		conns.Add(1)
		var msg string
		for websocket.Message.Receive(c, &msg) == nil {
		}
	}))
	defer srv.Close()

	d := NewDriver("chat", &Chat{Channel: "somechannel"}, Options{
		URL:            wsURL(srv),
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    20 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	})
	cancel, done := runDriver(t, d)

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDriverPongKeepsSessionAlive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var conns, pings atomic.Int32
	srv := httptest.NewServer(websocket.Handler(func(c *websocket.Conn) {
		conns.Add(1)
		var msg string
		for websocket.Message.Receive(c, &msg) == nil {
			if msg == `{"type":"PING"}` {
				pings.Add(1)
				_ = websocket.Message.Send(c, `{ "type": "PONG" }`)
			}
		}
	}))
	defer srv.Close()

	p := NewPubSub("somechannel", fakeIdentity{}, false, nil)
	d := NewDriver("pubsub", p, Options{
		URL:            wsURL(srv),
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    200 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	})
	cancel, done := runDriver(t, d)

	require.Eventually(t, func() bool { return pings.Load() >= 5 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), conns.Load())
	cancel()
	<-done
}
