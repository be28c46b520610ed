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
	"time"
)

// appTokenSkew renews the app token this long before it expires.
const appTokenSkew = time.Minute

type appTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// AppAccessToken returns a client-credentials token, requesting a new one when
// none is held or the held one is about to expire.
func (c *Client) AppAccessToken(ctx context.Context) (string, error) {
	if c.opts.ClientID == "" || c.opts.ClientSecret == "" {
		return "", ErrMissingCredentials
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.appToken != "" && c.now().Before(c.appTokenExp.Add(-appTokenSkew)) {
		return c.appToken, nil
	}

	form := url.Values{}
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)
	form.Set("grant_type", "client_credentials")

	resp, err := c.do(ctx, request{
		method:   http.MethodPost,
		url:      c.opts.AuthURL,
		endpoint: "oauth.token",
		body:     []byte(form.Encode()),
		header:   http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		limited:  true,
		retries:  -1,
	})
	if err != nil {
		return "", fmt.Errorf("app access token: %w", err)
	}
	if err := expectOK(resp, "oauth.token"); err != nil {
		return "", fmt.Errorf("app access token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tr appTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("app access token: decode: %w", err)
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return "", fmt.Errorf("app access token: %w", ErrNoToken)
	}

	c.appToken = tr.AccessToken
	c.appTokenExp = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return c.appToken, nil
}

func (c *Client) invalidateAppToken() {
	c.tokenMu.Lock()
	c.appToken = ""
	c.appTokenExp = time.Time{}
	c.tokenMu.Unlock()
}
