// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/resilience"
)

type fakePlatform struct {
	tokenRequests atomic.Int32
	userRequests  atomic.Int32
	rejectNext    atomic.Bool
	streamOnline  atomic.Bool
	gqlStatus     atomic.Int32
}

func (f *fakePlatform) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		n := f.tokenRequests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "app-" + string(rune('0'+n)),
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectNext.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "cid", r.Header.Get("Client-Id"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer app-"))
		if !f.streamOnline.Load() {
			_, _ = io.WriteString(w, `{"data":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"4711","user_id":"99","user_login":"somechannel","game_name":"Chess","title":"hello","viewer_count":12,"started_at":"2025-03-01T18:00:00Z"}]}`)
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		f.userRequests.Add(1)
		if r.URL.Query().Get("login") == "ghost" {
			_, _ = io.WriteString(w, `{"data":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"99","login":"somechannel","display_name":"SomeChannel"}]}`)
	})
	mux.HandleFunc("/helix/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "archive", r.URL.Query().Get("type"))
		assert.Equal(t, "99", r.URL.Query().Get("user_id"))
		_, _ = io.WriteString(w, `{"data":[{"id":"v1","stream_id":"4711","type":"archive","created_at":"2025-03-01T18:00:30Z"}]}`)
	})
	mux.HandleFunc("/gql", func(w http.ResponseWriter, r *http.Request) {
		if s := f.gqlStatus.Load(); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		assert.Equal(t, "gqlid", r.Header.Get("Client-Id"))
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Variables["isVod"] == true {
			_, _ = io.WriteString(w, `{"data":{"videoPlaybackAccessToken":{"value":"vod-value","signature":"vod-sig"}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"streamPlaybackAccessToken":{"value":"live-value","signature":"live-sig"}}}`)
	})
	mux.HandleFunc("/api/channels/somechannel/access_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "legacyid", r.Header.Get("Client-Id"))
		assert.Equal(t, "_", r.URL.Query().Get("platform"))
		_, _ = io.WriteString(w, `{"token":"legacy-value","sig":"legacy-sig"}`)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakePlatform, mutate ...func(*Options)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	opts := Options{
		HelixURL:       srv.URL + "/helix",
		AuthURL:        srv.URL + "/oauth2/token",
		GQLURL:         srv.URL + "/gql",
		LegacyAPIURL:   srv.URL + "/api",
		UsherURL:       srv.URL + "/usher",
		ClientID:       "cid",
		ClientSecret:   "secret",
		GQLClientID:    "gqlid",
		LegacyClientID: "legacyid",
		Backoff:        time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		RateLimit:      1000,
		HTTPClient:     srv.Client(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewClient(opts), srv
}

func TestStreamStatusOfflineAndOnline(t *testing.T) {
	f := &fakePlatform{}
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	s, err := c.StreamStatus(ctx, "somechannel")
	require.NoError(t, err)
	assert.Nil(t, s)

	f.streamOnline.Store(true)
	s, err = c.StreamStatus(ctx, "somechannel")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "4711", s.ID)
	assert.Equal(t, "Chess", s.GameName)
	assert.Equal(t, time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC), s.StartedAt)
	assert.Contains(t, string(s.Raw), `"viewer_count":12`)

	assert.Equal(t, int32(1), f.tokenRequests.Load(), "app token is reused")
}

func TestHelixRenewsAppTokenOnUnauthorized(t *testing.T) {
	f := &fakePlatform{}
	c, _ := newTestClient(t, f)

	_, err := c.StreamStatus(context.Background(), "somechannel")
	require.NoError(t, err)

	f.rejectNext.Store(true)
	_, err = c.StreamStatus(context.Background(), "somechannel")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.tokenRequests.Load())
}

func TestHelixRequiresCredentials(t *testing.T) {
	f := &fakePlatform{}
	c, _ := newTestClient(t, f, func(o *Options) { o.ClientSecret = "" })

	_, err := c.StreamStatus(context.Background(), "somechannel")
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestUserByLoginIsCached(t *testing.T) {
	f := &fakePlatform{}
	mc := cache.NewMemoryCache(0)
	t.Cleanup(func() { _ = mc.Close() })
	c, _ := newTestClient(t, f, func(o *Options) { o.Cache = mc })

	for i := 0; i < 3; i++ {
		u, err := c.UserByLogin(context.Background(), "somechannel")
		require.NoError(t, err)
		assert.Equal(t, "99", u.ID)
	}
	assert.Equal(t, int32(1), f.userRequests.Load())

	_, err := c.UserByLogin(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestVideosArchive(t *testing.T) {
	f := &fakePlatform{}
	c, _ := newTestClient(t, f)

	videos, err := c.Videos(context.Background(), "99", "archive")
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "4711", videos[0].StreamID)
}

func TestPlaybackTokens(t *testing.T) {
	f := &fakePlatform{}
	c, _ := newTestClient(t, f, func(o *Options) { o.OAuthVideo = "oauth" })
	ctx := context.Background()

	live, err := c.StreamToken(ctx, "somechannel")
	require.NoError(t, err)
	assert.Equal(t, AccessToken{Value: "live-value", Signature: "live-sig"}, live)

	vod, err := c.VideoToken(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, AccessToken{Value: "vod-value", Signature: "vod-sig"}, vod)

	legacy, err := c.LegacyStreamToken(ctx, "SomeChannel")
	require.NoError(t, err)
	assert.Equal(t, AccessToken{Value: "legacy-value", Signature: "legacy-sig"}, legacy)
}

func TestStreamTokenBreakerOpens(t *testing.T) {
	f := &fakePlatform{}
	f.gqlStatus.Store(http.StatusForbidden)
	c, _ := newTestClient(t, f, func(o *Options) { o.BreakerFailures = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.StreamToken(ctx, "somechannel")
		require.ErrorIs(t, err, ErrUnexpectedStatus)
	}
	_, err := c.StreamToken(ctx, "somechannel")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, string(resilience.StateOpen), c.BreakerState())
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, "#EXTM3U\n")
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		HTTPClient: srv.Client(),
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: time.Millisecond,
	})
	body, err := c.FetchPlaylist(context.Background(), srv.URL+"/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPlaylistStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	c := NewClient(Options{HTTPClient: srv.Client()})
	_, err := c.FetchPlaylist(context.Background(), srv.URL+"/gone.m3u8")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if strings.Contains(r.URL.Path, "good") {
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{HTTPClient: srv.Client()})
	status, err := c.Probe(context.Background(), srv.URL+"/good/index-dvr.m3u8")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, err = c.Probe(context.Background(), srv.URL+"/bad/index-dvr.m3u8")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestMasterURLs(t *testing.T) {
	c := NewClient(Options{UsherURL: "https://usher.example/"})
	tok := AccessToken{Value: `{"channel":"x"}`, Signature: "abc"}

	live, err := url.Parse(c.LiveMasterURL("SomeChannel", tok))
	require.NoError(t, err)
	assert.Equal(t, "/api/channel/hls/somechannel.m3u8", live.Path)
	assert.Equal(t, "abc", live.Query().Get("sig"))
	assert.Equal(t, tok.Value, live.Query().Get("token"))
	assert.Equal(t, "true", live.Query().Get("allow_source"))

	vod, err := url.Parse(c.VodMasterURL("123", tok))
	require.NoError(t, err)
	assert.Equal(t, "/vod/123.m3u8", vod.Path)
}

func TestTraceURLDropsQuery(t *testing.T) {
	assert.Equal(t, "usher.example/api/channel/hls/x.m3u8?", traceURL("https://usher.example/api/channel/hls/x.m3u8?token=secret"))
	assert.Equal(t, "cdn.example/a.ts", traceURL("https://cdn.example/a.ts"))
}
