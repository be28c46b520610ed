// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamkeeper/internal/hls"
)

func mustParse(t *testing.T, body string) *hls.MediaPlaylist {
	t.Helper()
	pl, err := hls.ParseMedia([]byte(body))
	require.NoError(t, err)
	return pl
}

func TestPoolNeverExceedsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var active, peak atomic.Int32
	p := newPool(4, func(context.Context, task) bool {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return true
	})

	tasks := make([]task, 20)
	for i := range tasks {
		tasks[i] = task{target: fmt.Sprintf("%05d.ts", i)}
	}
	assert.Equal(t, 20, p.run(context.Background(), tasks))
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestPoolCountsSuccesses(t *testing.T) {
	p := newPool(2, func(_ context.Context, t task) bool { return t.target != "bad" })
	n := p.run(context.Background(), []task{{target: "a"}, {target: "bad"}, {target: "b"}})
	assert.Equal(t, 2, n)
}

func TestPoolStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	p := newPool(1, func(context.Context, task) bool {
		if calls.Add(1) == 1 {
			cancel()
		}
		return true
	})
	tasks := make([]task, 10)
	for i := range tasks {
		tasks[i] = task{target: fmt.Sprint(i)}
	}
	p.run(ctx, tasks)
	assert.Less(t, calls.Load(), int32(10))
}

func TestPoolEmptyBatch(t *testing.T) {
	p := newPool(4, func(context.Context, task) bool { return true })
	assert.Zero(t, p.run(context.Background(), nil))
}
