// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package twitch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

func (c *Client) usherQuery(tok AccessToken) url.Values {
	q := url.Values{}
	q.Set("allow_source", "true")
	q.Set("allow_audio_only", "true")
	q.Set("fast_bread", "true")
	q.Set("player_backend", "mediaplayer")
	q.Set("playlist_include_framerate", "true")
	q.Set("supported_codecs", "avc1")
	q.Set("p", strconv.FormatInt(c.randInt63n(1_000_000), 10))
	q.Set("sig", tok.Signature)
	q.Set("token", tok.Value)
	return q
}

// LiveMasterURL builds the usher master playlist URL of a live channel.
func (c *Client) LiveMasterURL(channel string, tok AccessToken) string {
	return fmt.Sprintf("%s/api/channel/hls/%s.m3u8?%s",
		c.opts.UsherURL, url.PathEscape(strings.ToLower(channel)), c.usherQuery(tok).Encode())
}

// VodMasterURL builds the usher master playlist URL of a VOD.
func (c *Client) VodMasterURL(vodID string, tok AccessToken) string {
	return fmt.Sprintf("%s/vod/%s.m3u8?%s",
		c.opts.UsherURL, url.PathEscape(vodID), c.usherQuery(tok).Encode())
}

// FetchPlaylist downloads a master or media playlist body. Non-200 answers
// yield a *StatusError.
func (c *Client) FetchPlaylist(ctx context.Context, rawURL string) ([]byte, error) {
	endpoint := "cdn.playlist"
	if c.opts.UsherURL != "" && strings.HasPrefix(rawURL, c.opts.UsherURL) {
		endpoint = "usher.playlist"
	}
	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		url:      rawURL,
		endpoint: endpoint,
		header:   http.Header{"Accept": []string{"application/vnd.apple.mpegurl, */*"}},
		retries:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	if err := expectOK(resp, endpoint); err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: read: %w", err)
	}
	return body, nil
}

// Probe issues a single HEAD request and returns the status code.
func (c *Client) Probe(ctx context.Context, rawURL string) (int, error) {
	resp, err := c.do(ctx, request{
		method:   http.MethodHead,
		url:      rawURL,
		endpoint: "cdn.probe",
		retries:  0,
	})
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
