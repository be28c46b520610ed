// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/health"
	"github.com/ManuGH/streamkeeper/internal/live"
	"github.com/ManuGH/streamkeeper/internal/log"
)

type staticStatus RecorderStatus

func (s staticStatus) RecorderStatus() RecorderStatus { return RecorderStatus(s) }

func newTestServer(t *testing.T, hm *health.Manager, limit int) *httptest.Server {
	t.Helper()
	status := staticStatus{
		Channels: []ChannelStatus{{
			Channel:    "somechannel",
			Components: []config.Component{config.ComponentVideo},
			Live:       &live.Snapshot{Channel: "somechannel", Status: live.StatusDownloading, SessionID: "20250301T120000Z", HighWater: 12},
		}},
		Vod: []string{"4211"},
	}
	srv := httptest.NewServer(newRouter(hm, status, limit))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRouterRecorders(t *testing.T) {
	srv := newTestServer(t, health.NewManager("test"), 0)

	resp := get(t, srv, "/api/v1/recorders")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got RecorderStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	want := RecorderStatus{
		Channels: []ChannelStatus{{
			Channel:    "somechannel",
			Components: []config.Component{config.ComponentVideo},
			Live:       &live.Snapshot{Channel: "somechannel", Status: live.StatusDownloading, SessionID: "20250301T120000Z", HighWater: 12},
		}},
		Vod: []string{"4211"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recorder status mismatch (-want +got):\n%s", diff)
	}
}

func TestRouterProbes(t *testing.T) {
	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewPingChecker("journal", func(context.Context) error { return errors.New("down") }))
	srv := newTestServer(t, hm, 0)

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/readyz").StatusCode)

	resp := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRouterRateLimit(t *testing.T) {
	srv := newTestServer(t, health.NewManager("test"), 2)

	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").StatusCode)
	resp := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestShouldTrace(t *testing.T) {
	for path, want := range map[string]bool{
		"/healthz":          false,
		"/metrics":          false,
		"/api/v1/recorders": true,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, shouldTrace(req), path)
	}
}

func TestCorrelateCarriesRequestID(t *testing.T) {
	var seen string
	h := chimw.RequestID(correlate(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = log.RequestIDFromContext(r.Context())
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/recorders", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "req-42", seen)
}
