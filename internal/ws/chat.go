// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ws

import (
	"context"
	"strings"
)

// ChatURL is the platform's IRC-over-websocket endpoint.
const ChatURL = "wss://irc-ws.chat.twitch.tv:443"

// anonymousNick is accepted by the chat server without a password.
const anonymousNick = "justinfan31415"

// Chat joins one channel's IRC room; the Driver archives every line.
type Chat struct {
	Channel  string
	Username string
	// OAuth is the chat password ("oauth:..."); empty joins anonymously.
	OAuth string
}

func (c *Chat) OnOpen(_ context.Context, conn Conn) error {
	nick := strings.ToLower(c.Username)
	lines := []string{"CAP REQ :twitch.tv/tags twitch.tv/commands"}
	if c.OAuth != "" && nick != "" {
		lines = append(lines, "PASS "+c.OAuth)
	} else {
		nick = anonymousNick
	}
	lines = append(lines, "NICK "+nick, "JOIN #"+strings.ToLower(c.Channel))
	for _, l := range lines {
		if err := conn.Send(l); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chat) Ping(conn Conn) error {
	return conn.Send("PING")
}

func (c *Chat) IsPong(msg string) bool {
	msg = strings.TrimSpace(msg)
	return strings.HasPrefix(msg, "PONG") || strings.HasPrefix(msg, ":tmi.twitch.tv PONG")
}

func (c *Chat) OnMessage(_ context.Context, conn Conn, msg string) {
	for _, line := range strings.Split(msg, "\r\n") {
		if strings.TrimSpace(line) == "PING :tmi.twitch.tv" {
			_ = conn.Send("PONG :tmi.twitch.tv")
		}
	}
}
