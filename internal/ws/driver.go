// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ws runs long-lived text websocket sessions (platform pubsub events
// and chat) with keepalive pings, pong deadlines and reconnects.
package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/ManuGH/streamkeeper/internal/log"
)

// ErrPongTimeout ends a session whose ping went unanswered.
var ErrPongTimeout = errors.New("websocket pong timeout")

// Conn sends text frames on the current session.
type Conn interface {
	Send(msg string) error
}

// Protocol is what a concrete client plugs into a Driver.
type Protocol interface {
	Ping(c Conn) error
	IsPong(msg string) bool
	OnOpen(ctx context.Context, c Conn) error
	OnMessage(ctx context.Context, c Conn, msg string)
}

// LineWriter receives every raw message.
type LineWriter interface {
	WriteLine(line string) error
}

// Options configures a Driver.
type Options struct {
	URL    string
	Origin string

	ReconnectDelay time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration

	// Log is optional.
	Log LineWriter
}

// Driver keeps one Protocol connected until its context ends.
type Driver struct {
	name   string
	proto  Protocol
	opts   Options
	logger zerolog.Logger
}

// NewDriver creates a Driver for proto.
func NewDriver(name string, proto Protocol, opts Options) *Driver {
	if opts.Origin == "" {
		opts.Origin = "http://localhost/"
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 3 * time.Minute
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 15 * time.Second
	}
	return &Driver{
		name:   name,
		proto:  proto,
		opts:   opts,
		logger: log.WithComponent("ws").With().Str("client", name).Logger(),
	}
}

// Run connects, serves sessions and reconnects after ReconnectDelay until ctx
// ends. It always returns ctx.Err().
func (d *Driver) Run(ctx context.Context) error {
	for {
		err := d.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn().Err(err).Dur("retry_in", d.opts.ReconnectDelay).Msg("websocket disconnected")

		t := time.NewTimer(d.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.Message.Send(c.ws, msg)
}

func (d *Driver) session(ctx context.Context) error {
	cfg, err := websocket.NewConfig(d.opts.URL, d.opts.Origin)
	if err != nil {
		return err
	}
	raw, err := cfg.DialContext(ctx)
	if err != nil {
		return err
	}
	c := &conn{ws: raw}
	d.logger.Info().Str(log.FieldURL, d.opts.URL).Msg("websocket connected")

	msgs := make(chan string)
	done := make(chan struct{})
	readerDone := make(chan struct{})
	var readErr error
	go func() {
		defer close(readerDone)
		for {
			var msg string
			if err := websocket.Message.Receive(raw, &msg); err != nil {
				readErr = err
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		_ = raw.Close()
		<-readerDone
	}()

	if err := d.proto.OnOpen(ctx, c); err != nil {
		return err
	}

	ping := time.NewTicker(d.opts.PingInterval)
	defer ping.Stop()
	var pongDeadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-readerDone:
			return readErr
		case <-ping.C:
			if err := d.proto.Ping(c); err != nil {
				return err
			}
			if pongDeadline == nil {
				pongDeadline = time.After(d.opts.PongTimeout)
			}
		case <-pongDeadline:
			return ErrPongTimeout
		case msg := <-msgs:
			if d.proto.IsPong(msg) {
				pongDeadline = nil
			}
			if d.opts.Log != nil {
				if err := d.opts.Log.WriteLine(strings.TrimSpace(msg)); err != nil {
					d.logger.Warn().Err(err).Msg("raw message log failed")
				}
			}
			d.proto.OnMessage(ctx, c, msg)
		}
	}
}
