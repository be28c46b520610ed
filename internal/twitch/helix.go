// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ManuGH/streamkeeper/internal/cache"
)

const videosPageSize = "20"

type helixEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

// helixGet issues an authenticated Helix GET and decodes the data array.
// A 401 drops the cached app token and retries once with a fresh one.
func (c *Client) helixGet(ctx context.Context, endpoint, path string, q url.Values) ([]json.RawMessage, error) {
	target := c.opts.HelixURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	for try := 0; try < 2; try++ {
		token, err := c.AppAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, request{
			method:   http.MethodGet,
			url:      target,
			endpoint: endpoint,
			header: http.Header{
				"Client-Id":     []string{c.opts.ClientID},
				"Authorization": []string{"Bearer " + token},
				"Accept":        []string{"application/json"},
			},
			limited: true,
			retries: -1,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && try == 0 {
			_ = expectOK(resp, endpoint)
			c.invalidateAppToken()
			continue
		}
		if err := expectOK(resp, endpoint); err != nil {
			return nil, err
		}

		var env helixEnvelope
		err = json.NewDecoder(resp.Body).Decode(&env)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: decode: %w", endpoint, err)
		}
		return env.Data, nil
	}
	return nil, &StatusError{Endpoint: endpoint, Status: http.StatusUnauthorized}
}

// StreamStatus returns the channel's live stream, or nil when it is offline.
func (c *Client) StreamStatus(ctx context.Context, login string) (*Stream, error) {
	q := url.Values{}
	q.Set("user_login", login)
	data, err := c.helixGet(ctx, "helix.streams", "/streams", q)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var s Stream
	if err := json.Unmarshal(data[0], &s); err != nil {
		return nil, fmt.Errorf("helix.streams: decode stream: %w", err)
	}
	s.Raw = append(json.RawMessage(nil), data[0]...)
	return &s, nil
}

// UserByLogin resolves a channel login to its user record.
func (c *Client) UserByLogin(ctx context.Context, login string) (*User, error) {
	key := "user:" + login
	if c.opts.Cache != nil {
		var u User
		if cache.GetJSON(ctx, c.opts.Cache, key, &u) && u.ID != "" {
			return &u, nil
		}
	}

	q := url.Values{}
	q.Set("login", login)
	data, err := c.helixGet(ctx, "helix.users", "/users", q)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	var u User
	if err := json.Unmarshal(data[0], &u); err != nil {
		return nil, fmt.Errorf("helix.users: decode user: %w", err)
	}
	if c.opts.Cache != nil {
		cache.SetJSON(ctx, c.opts.Cache, key, u, c.opts.CacheTTL)
	}
	return &u, nil
}

// Videos lists the newest videos of a user filtered by type ("archive" for past broadcasts).
func (c *Client) Videos(ctx context.Context, userID, videoType string) ([]Video, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if videoType != "" {
		q.Set("type", videoType)
	}
	q.Set("first", videosPageSize)
	data, err := c.helixGet(ctx, "helix.videos", "/videos", q)
	if err != nil {
		return nil, err
	}
	out := make([]Video, 0, len(data))
	for _, raw := range data {
		var v Video
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("helix.videos: decode video: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
