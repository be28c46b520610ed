// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryCacheSetGetExpire(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewMemoryCache(0)
	defer c.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "user:somechannel", []byte("42"), time.Minute)
	v, ok := c.Get(ctx, "user:somechannel")
	require.True(t, ok)
	assert.Equal(t, []byte("42"), v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "user:somechannel")
	assert.False(t, ok)

	c.evictExpired()
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Zero(t, stats.Size)
}

func TestMemoryCacheJanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewMemoryCache(time.Millisecond)
	c.Set(context.Background(), "k", []byte("v"), time.Nanosecond)
	require.Eventually(t, func() bool { return c.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	type user struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	}
	SetJSON(ctx, c, "user:a", user{ID: "1", Login: "a"}, time.Minute)

	var got user
	require.True(t, GetJSON(ctx, c, "user:a", &got))
	assert.Equal(t, user{ID: "1", Login: "a"}, got)
	assert.False(t, GetJSON(ctx, c, "user:missing", &got))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "memcached"}, zerolog.Nop())
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpenMemoryBackend(t *testing.T) {
	c, err := Open(context.Background(), Config{Backend: "memory", TTL: time.Minute}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
