// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamkeeper/internal/archive"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/journal"
	"github.com/ManuGH/streamkeeper/internal/segment"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

var streamStart = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

const guessedURL = "https://cdn.example.net/abc_somechannel_4211_1740852000/chunked/index-dvr.m3u8"

func vodList(names ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, n := range names {
		fmt.Fprintf(&b, "#EXTINF:10.000,\n%s\n", n)
	}
	return b.String()
}

type fakePlatform struct {
	mu        sync.Mutex
	videos    []twitch.Video
	bodies    []string
	fetches   int
	failURL   string
	videoHits int
}

func (f *fakePlatform) UserByLogin(_ context.Context, login string) (*twitch.User, error) {
	return &twitch.User{ID: "77", Login: login}, nil
}

func (f *fakePlatform) StreamStatus(context.Context, string) (*twitch.Stream, error) {
	return nil, nil
}

func (f *fakePlatform) Videos(context.Context, string, string) ([]twitch.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoHits++
	return f.videos, nil
}

func (f *fakePlatform) FetchPlaylist(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failURL != "" && rawURL == f.failURL {
		return nil, &twitch.StatusError{Endpoint: "cdn.playlist", Status: 403}
	}
	i := f.fetches
	if i >= len(f.bodies) {
		i = len(f.bodies) - 1
	}
	f.fetches++
	return []byte(f.bodies[i]), nil
}

type fakeResolver struct {
	guesses  atomic.Int32
	guessURL []string
	guessErr error
	vodURL   string
	vodErr   error
}

func (f *fakeResolver) GuessVodURL(context.Context, string, string, time.Time) (string, error) {
	n := int(f.guesses.Add(1))
	if f.guessErr != nil {
		return "", f.guessErr
	}
	if n > len(f.guessURL) {
		n = len(f.guessURL)
	}
	return f.guessURL[n-1], nil
}

func (f *fakeResolver) ResolveVod(context.Context, string) (string, error) {
	return f.vodURL, f.vodErr
}

type diskFetcher struct {
	mu      sync.Mutex
	names   []string
	urls    []string
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	// failFor counts the failures left per name; a negative count fails forever.
	failFor map[string]int
	// failBefore fails every fetch while now() is earlier.
	failBefore time.Time
	now        func() time.Time
}

func (f *diskFetcher) Fetch(ctx context.Context, req segment.Request) (segment.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.names = append(f.names, req.Name)
	f.urls = append(f.urls, req.URL)
	fail := false
	if n := f.failFor[req.Name]; n != 0 {
		fail = true
		if n > 0 {
			f.failFor[req.Name] = n - 1
		}
	}
	if f.now != nil && f.now().Before(f.failBefore) {
		fail = true
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return segment.Result{}, ctx.Err()
		}
	}
	if fail {
		return segment.Result{}, segment.ErrAttemptsExhausted
	}
	if err := os.WriteFile(req.Path, []byte("ts"), 0o600); err != nil {
		return segment.Result{}, err
	}
	return segment.Result{Written: 2, Expected: 2, Attempts: 1}, nil
}

func (f *diskFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

type fixture struct {
	rec      *Recorder
	platform *fakePlatform
	resolver *fakeResolver
	fetcher  *diskFetcher
	mem      *journal.Memory
	clk      *clock.Fake
	root     string
}

func testStream() twitch.Stream {
	return twitch.Stream{ID: "4211", UserLogin: "somechannel", StartedAt: streamStart}
}

func newFixture(t *testing.T, bodies ...string) *fixture {
	t.Helper()
	f := &fixture{
		platform: &fakePlatform{
			videos: []twitch.Video{{ID: "v900", CreatedAt: streamStart.Add(2 * time.Minute)}},
			bodies: bodies,
		},
		resolver: &fakeResolver{guessURL: []string{guessedURL}},
		fetcher:  &diskFetcher{},
		mem:      journal.NewMemory(),
		clk:      clock.NewFake(streamStart),
		root:     t.TempDir(),
	}
	f.rec = New(Deps{
		Platform: f.platform,
		Resolver: f.resolver,
		Fetcher:  f.fetcher,
		Journal:  journal.NewHandle(journal.BackendMemory, f.mem),
	}, testStream(), Options{
		Layout: archive.Layout{Root: f.root},
		Clock:  f.clk,
	})
	return f
}

func (f *fixture) vodDir() string {
	return archive.Layout{Root: f.root}.Dir(archive.KindVod, streamStart, "v900")
}

func TestRecorderDrainsAndEndsOnInactivity(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, vodList("0.ts", "1.ts", "2-unmuted.ts"))
	require.NoError(t, f.rec.Start(context.Background()))

	assert.Equal(t, StatusDone, f.rec.Status())
	assert.Equal(t, "v900", f.rec.VodID())
	assert.ElementsMatch(t, []string{"00.ts", "01.ts", "2-muted.ts"}, f.fetcher.fetched())
	assert.Contains(t, f.fetcher.urls, "https://cdn.example.net/abc_somechannel_4211_1740852000/chunked/2-muted.ts")

	// first poll lands everything, then six idle polls five minutes apart
	assert.Equal(t, 30*time.Minute, f.clk.Now().Sub(streamStart))

	for _, name := range []string{"00.ts", "01.ts", "2-muted.ts"} {
		assert.FileExists(t, filepath.Join(f.vodDir(), name))
	}
	capture, err := os.ReadFile(filepath.Join(f.vodDir(), "v900-playlist.log"))
	require.NoError(t, err)
	assert.Equal(t, 7, strings.Count(string(capture), "#EXTM3U"))

	files, err := f.mem.Files(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, file := range files {
		assert.Equal(t, journal.StatusDone, file.Status)
	}
	rec, err := f.mem.Recording(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, rec.Stop)
	assert.Equal(t, "4211", rec.StreamID)
}

func TestRecorderNeverRefetchesFilesOnDisk(t *testing.T) {
	f := newFixture(t, vodList("0.ts", "1.ts"))
	require.NoError(t, os.MkdirAll(f.vodDir(), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.vodDir(), "00.ts"), []byte("ts"), 0o600))

	require.NoError(t, f.rec.Start(context.Background()))
	assert.Equal(t, []string{"01.ts"}, f.fetcher.fetched())
}

func TestRecorderRetriesFailedSegmentsOnNextPoll(t *testing.T) {
	f := newFixture(t, vodList("0.ts", "1.ts"))
	f.fetcher.failFor = map[string]int{"01.ts": 2}

	require.NoError(t, f.rec.Start(context.Background()))

	fetched := f.fetcher.fetched()
	assert.Equal(t, 1, countOf(fetched, "00.ts"))
	assert.Equal(t, 3, countOf(fetched, "01.ts"))
	assert.Equal(t, 2, f.rec.Completed())
	assert.FileExists(t, filepath.Join(f.vodDir(), "01.ts"))
	// the failed polls still listed 01.ts, so idle time starts after it landed
	assert.Equal(t, 40*time.Minute, f.clk.Now().Sub(streamStart))
}

func TestRecorderKeepsPollingWhileSegmentsFail(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var bodies []string
	var names []string
	for i := 0; i < 8; i++ {
		names = append(names, fmt.Sprintf("%d.ts", i))
		bodies = append(bodies, vodList(names...))
	}
	f := newFixture(t, bodies...)
	f.fetcher.now = f.clk.Now
	f.fetcher.failBefore = streamStart.Add(40 * time.Minute)

	require.NoError(t, f.rec.Start(context.Background()))

	assert.Equal(t, StatusDone, f.rec.Status())
	assert.Equal(t, 8, f.rec.Completed())
	for i := 0; i < 8; i++ {
		assert.FileExists(t, filepath.Join(f.vodDir(), fmt.Sprintf("%02d.ts", i)))
	}
	assert.Greater(t, f.clk.Now().Sub(streamStart), 40*time.Minute)
}

func TestCollectDropsRepeatedNames(t *testing.T) {
	f := newFixture(t, vodList())
	s := &vodSession{
		Session:     &archive.Session{ID: "v900", Dir: t.TempDir()},
		playlistURL: "https://cdn.example.net/x/chunked/index-dvr.m3u8",
	}

	pl := mustParse(t, vodList("1.ts", "2.ts", "1.ts", "2-unmuted.ts", "2-unmuted.ts"))
	tasks := f.rec.collect(s, pl)

	var got []string
	for _, tk := range tasks {
		got = append(got, tk.target)
	}
	assert.Equal(t, []string{"01.ts", "02.ts", "2-muted.ts"}, got)
}

func countOf(names []string, name string) int {
	n := 0
	for _, v := range names {
		if v == name {
			n++
		}
	}
	return n
}

func TestRecorderBoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("%d.ts", i)
	}
	f := newFixture(t, vodList(names...))
	f.fetcher.delay = 20 * time.Millisecond

	require.NoError(t, f.rec.Start(context.Background()))
	assert.Len(t, f.fetcher.fetched(), 12)
	assert.LessOrEqual(t, f.fetcher.peak.Load(), int32(4))
	assert.Positive(t, f.fetcher.peak.Load())
}

func TestRecorderVodNotFound(t *testing.T) {
	f := newFixture(t, vodList("0.ts"))
	f.platform.videos = []twitch.Video{{ID: "old", CreatedAt: streamStart.Add(-3 * time.Hour)}}

	err := f.rec.Start(context.Background())
	require.ErrorIs(t, err, ErrVodNotFound)
	assert.Equal(t, StatusError, f.rec.Status())
	assert.Equal(t, 30, f.platform.videoHits)
	assert.Empty(t, f.fetcher.fetched())
}

func TestRecorderMatchesByStreamID(t *testing.T) {
	f := newFixture(t, vodList("0.ts"))
	f.platform.videos = []twitch.Video{
		{ID: "other", CreatedAt: streamStart.Add(-5 * time.Hour)},
		{ID: "v900", StreamID: "4211", CreatedAt: streamStart.Add(-5 * time.Hour)},
	}
	require.NoError(t, f.rec.Start(context.Background()))
	assert.Equal(t, "v900", f.rec.VodID())
}

func TestRecorderNoPlaylist(t *testing.T) {
	f := newFixture(t, vodList("0.ts"))
	f.resolver.guessErr = errors.New("no candidate")
	f.resolver.vodErr = errors.New("token denied")

	err := f.rec.Start(context.Background())
	require.ErrorIs(t, err, ErrNoPlaylist)
	assert.Equal(t, StatusError, f.rec.Status())
}

func TestRecorderFallsBackToTokenPlaylist(t *testing.T) {
	f := newFixture(t, vodList("0.ts"))
	f.resolver.guessErr = errors.New("no candidate")
	f.resolver.vodURL = "https://vod.example.net/v900/chunked/index-dvr.m3u8"

	require.NoError(t, f.rec.Start(context.Background()))
	f.fetcher.mu.Lock()
	defer f.fetcher.mu.Unlock()
	assert.Equal(t, []string{"https://vod.example.net/v900/chunked/0.ts"}, f.fetcher.urls)
}

func TestRecorderReresolvesUnavailablePlaylist(t *testing.T) {
	f := newFixture(t, vodList("0.ts"))
	f.platform.failURL = guessedURL
	f.resolver.guessURL = []string{guessedURL, "https://cdn2.example.net/abc/chunked/index-dvr.m3u8"}

	require.NoError(t, f.rec.Start(context.Background()))
	assert.Equal(t, int32(2), f.resolver.guesses.Load())
	assert.Equal(t, []string{"00.ts"}, f.fetcher.fetched())
}

func TestRecorderRunsOnce(t *testing.T) {
	f := newFixture(t, vodList("0.ts"))
	require.NoError(t, f.rec.Start(context.Background()))
	assert.ErrorIs(t, f.rec.Start(context.Background()), ErrNotIdle)
}

func TestCollectMutedRule(t *testing.T) {
	f := newFixture(t, vodList())
	dir := t.TempDir()
	s := &vodSession{
		Session:     &archive.Session{ID: "v900", Dir: dir},
		playlistURL: "https://cdn.example.net/x/chunked/index-dvr.m3u8",
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "05.ts"), []byte("ts"), 0o600))
	f.rec.markCompleted("3.ts")
	f.rec.markCompleted("4-muted.ts")

	pl := mustParse(t, vodList("3.ts", "3-unmuted.ts", "4-unmuted.ts", "5.ts", "6-unmuted.ts", "7.ts?token=x"))
	tasks := f.rec.collect(s, pl)

	var got []string
	for _, tk := range tasks {
		got = append(got, tk.name+"|"+tk.target)
	}
	assert.Equal(t, []string{"6-muted.ts|6-muted.ts", "7.ts|07.ts"}, got)
	assert.Equal(t, "https://cdn.example.net/x/chunked/6-muted.ts", tasks[0].url)
}

func TestCollectSkipsEscapingNames(t *testing.T) {
	f := newFixture(t, vodList())
	s := &vodSession{
		Session:     &archive.Session{ID: "v900", Dir: t.TempDir()},
		playlistURL: "https://cdn.example.net/x/chunked/index-dvr.m3u8",
	}

	pl := mustParse(t, vodList(`..\1.ts`, "2.ts"))
	tasks := f.rec.collect(s, pl)
	require.Len(t, tasks, 1)
	assert.Equal(t, "02.ts", tasks[0].target)
}
