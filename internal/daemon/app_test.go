// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/lifecycle"
	"github.com/ManuGH/streamkeeper/internal/live"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/vod"
)

type fakeLive struct {
	starts  atomic.Int32
	running atomic.Bool
}

func (f *fakeLive) Start(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return live.ErrNotIdle
	}
	defer f.running.Store(false)
	f.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeLive) Snapshot() live.Snapshot {
	st := live.StatusIdle
	if f.running.Load() {
		st = live.StatusDownloading
	}
	return live.Snapshot{Channel: "somechannel", Status: st}
}

type fakeDiscoverer struct {
	mu       sync.Mutex
	channels []string
}

func (f *fakeDiscoverer) Discover(_ context.Context, channel string) (*vod.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	return nil, nil
}

func (f *fakeDiscoverer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

type fakeTracker struct {
	active    []string
	cancelled atomic.Bool
}

func (f *fakeTracker) Active() []string { return f.active }
func (f *fakeTracker) CancelAll()       { f.cancelled.Store(true) }
func (f *fakeTracker) Wait()            {}

type fakePublisher struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev lifecycle.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []lifecycle.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lifecycle.Event(nil), f.events...)
}

// emitSource emits its events once and then blocks until cancelled.
type emitSource struct {
	events []lifecycle.Event
}

func (s *emitSource) Run(ctx context.Context, emit func(lifecycle.Event)) error {
	for _, ev := range s.events {
		emit(ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

// blockingManager stands in for the ops server.
type blockingManager struct {
	hooks []namedHook
}

func (m *blockingManager) Start(ctx context.Context) error {
	<-ctx.Done()
	return m.Shutdown(context.Background())
}

func (m *blockingManager) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(m.hooks) - 1; i >= 0; i-- {
		errs = append(errs, m.hooks[i].hook(ctx))
	}
	return errors.Join(errs...)
}

func (m *blockingManager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

func newTestRuntime(name string, components ...config.Component) *channelRuntime {
	return newChannelRuntime(config.ChannelConfig{Name: name, Components: components})
}

func wentLive(channel, source string) lifecycle.Event {
	return lifecycle.NewEvent(lifecycle.EventWentLive, channel, "4211", source, time.Now())
}

func TestChannelRuntimeStartsRecordersOnWentLive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &fakeLive{}
	disc := &fakeDiscoverer{}
	rt := newTestRuntime("somechannel", config.ComponentVideo, config.ComponentVod)
	rt.live = rec
	rt.vod = disc

	ctx, cancel := context.WithCancel(context.Background())
	rt.handle(ctx, wentLive("somechannel", "poller"))
	rt.handle(ctx, wentLive("somechannel", "pubsub"))
	rt.handle(ctx, lifecycle.NewEvent(lifecycle.EventWentOffline, "somechannel", "4211", "poller", time.Now()))

	require.Eventually(t, func() bool { return len(disc.calls()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.running.Load() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), rec.starts.Load(), "second went-live must not start another session")
	assert.Equal(t, []string{"somechannel", "somechannel"}, disc.calls())

	cancel()
	require.NoError(t, rt.wait(context.Background()))
	assert.False(t, rec.running.Load())
}

func TestChannelRuntimeWaitHonoursContext(t *testing.T) {
	rt := newTestRuntime("somechannel", config.ComponentVideo)
	rt.live = &fakeLive{}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	rt.handle(runCtx, wentLive("somechannel", "poller"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, rt.wait(ctx), context.DeadlineExceeded)

	stop()
	require.NoError(t, rt.wait(context.Background()))
}

func TestAppRunDispatchesAndPublishesLocalEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &fakeLive{}
	rt := newTestRuntime("SomeChannel", config.ComponentVideo)
	rt.live = rec
	rt.sources = []lifecycle.Source{&emitSource{events: []lifecycle.Event{wentLive("somechannel", "poller")}}}

	other := newTestRuntime("otherchannel", config.ComponentVod)
	disc := &fakeDiscoverer{}
	other.vod = disc

	pub := &fakePublisher{}
	tracker := &fakeTracker{active: []string{"99", "42"}}
	mgr := &blockingManager{}

	app := NewApp(log.WithComponent("test"), mgr)
	app.addChannel(rt)
	app.addChannel(other)
	app.publisher = pub
	app.vod = tracker
	app.remote = []lifecycle.Source{&emitSource{events: []lifecycle.Event{
		wentLive("otherchannel", "kafka"),
		wentLive("unknown", "kafka"),
	}}}
	mgr.RegisterShutdownHook("recorders", app.drain)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.running.Load() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(disc.calls()) == 1 }, time.Second, 5*time.Millisecond)

	st := app.RecorderStatus()
	require.Len(t, st.Channels, 2)
	assert.Equal(t, "SomeChannel", st.Channels[0].Channel)
	require.NotNil(t, st.Channels[0].Live)
	assert.Equal(t, live.StatusDownloading, st.Channels[0].Live.Status)
	assert.Nil(t, st.Channels[1].Live)
	assert.Equal(t, []string{"42", "99"}, st.Vod)

	events := pub.published()
	require.Len(t, events, 1, "only locally observed events are republished")
	assert.Equal(t, "poller", events[0].Source)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.True(t, tracker.cancelled.Load())
	assert.False(t, rec.running.Load())
}

func TestAppRunRequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil)
	require.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}
