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
	"strings"
)

const playbackAccessTokenQuery = `query PlaybackAccessToken_Template($login: String!, $isLive: Boolean!, $vodID: ID!, $isVod: Boolean!, $playerType: String!) {` +
	`  streamPlaybackAccessToken(channelName: $login, params: {platform: "web", playerBackend: "mediaplayer", playerType: $playerType}) @include(if: $isLive) {    value    signature    __typename  }` +
	`  videoPlaybackAccessToken(id: $vodID, params: {platform: "web", playerBackend: "mediaplayer", playerType: $playerType}) @include(if: $isVod) {    value    signature    __typename  }` +
	`}`

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type gqlTokenResponse struct {
	Data struct {
		Stream *AccessToken `json:"streamPlaybackAccessToken"`
		Video  *AccessToken `json:"videoPlaybackAccessToken"`
	} `json:"data"`
}

type legacyTokenResponse struct {
	Token string `json:"token"`
	Sig   string `json:"sig"`
}

// StreamToken fetches a live playback token through the GQL endpoint. Calls
// run behind a circuit breaker; ErrCircuitOpen is returned while it is open.
func (c *Client) StreamToken(ctx context.Context, channel string) (AccessToken, error) {
	var tok AccessToken
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.playbackToken(ctx, map[string]any{
			"isLive":     true,
			"login":      channel,
			"isVod":      false,
			"vodID":      "",
			"playerType": "site",
		})
		if err != nil {
			return err
		}
		if resp.Data.Stream == nil || resp.Data.Stream.Value == "" {
			return ErrNoToken
		}
		tok = *resp.Data.Stream
		return nil
	})
	if err != nil {
		return AccessToken{}, fmt.Errorf("stream token %s: %w", channel, err)
	}
	return tok, nil
}

// VideoToken fetches a playback token for a VOD.
func (c *Client) VideoToken(ctx context.Context, vodID string) (AccessToken, error) {
	resp, err := c.playbackToken(ctx, map[string]any{
		"isLive":     false,
		"login":      "",
		"isVod":      true,
		"vodID":      vodID,
		"playerType": "site",
	})
	if err != nil {
		return AccessToken{}, fmt.Errorf("video token %s: %w", vodID, err)
	}
	if resp.Data.Video == nil || resp.Data.Video.Value == "" {
		return AccessToken{}, fmt.Errorf("video token %s: %w", vodID, ErrNoToken)
	}
	return *resp.Data.Video, nil
}

func (c *Client) playbackToken(ctx context.Context, vars map[string]any) (*gqlTokenResponse, error) {
	body, err := json.Marshal(gqlRequest{
		OperationName: "PlaybackAccessToken_Template",
		Query:         playbackAccessTokenQuery,
		Variables:     vars,
	})
	if err != nil {
		return nil, err
	}
	header := http.Header{
		"Client-Id":    []string{c.opts.GQLClientID},
		"Content-Type": []string{"application/json"},
	}
	if c.opts.OAuthVideo != "" {
		header.Set("Authorization", "OAuth "+c.opts.OAuthVideo)
	}

	resp, err := c.do(ctx, request{
		method:   http.MethodPost,
		url:      c.opts.GQLURL,
		endpoint: "gql.token",
		body:     body,
		header:   header,
		limited:  true,
		retries:  -1,
	})
	if err != nil {
		return nil, err
	}
	if err := expectOK(resp, "gql.token"); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out gqlTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gql.token: decode: %w", err)
	}
	return &out, nil
}

// LegacyStreamToken fetches a live playback token from the legacy API with the
// public web client id. It is the fallback when StreamToken fails.
func (c *Client) LegacyStreamToken(ctx context.Context, channel string) (AccessToken, error) {
	target := fmt.Sprintf("%s/channels/%s/access_token?platform=_", c.opts.LegacyAPIURL, url.PathEscape(strings.ToLower(channel)))
	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		url:      target,
		endpoint: "legacy.token",
		header: http.Header{
			"Client-Id": []string{c.opts.LegacyClientID},
			"Accept":    []string{"application/vnd.twitchtv.v5+json"},
		},
		limited: true,
		retries: -1,
	})
	if err != nil {
		return AccessToken{}, fmt.Errorf("legacy token %s: %w", channel, err)
	}
	if err := expectOK(resp, "legacy.token"); err != nil {
		return AccessToken{}, fmt.Errorf("legacy token %s: %w", channel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var lt legacyTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lt); err != nil {
		return AccessToken{}, fmt.Errorf("legacy token %s: decode: %w", channel, err)
	}
	if lt.Token == "" {
		return AccessToken{}, fmt.Errorf("legacy token %s: %w", channel, ErrNoToken)
	}
	return AccessToken{Value: lt.Token, Signature: lt.Sig}, nil
}

// BreakerState exposes the primary token breaker state for status reporting.
func (c *Client) BreakerState() string {
	return string(c.breaker.State())
}
