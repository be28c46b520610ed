// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/archive"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/hls"
	"github.com/ManuGH/streamkeeper/internal/journal"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/segment"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

// Deps are the collaborators of a Recorder.
type Deps struct {
	Platform Platform
	Resolver Resolver
	Fetcher  Fetcher
	// Journal may be nil.
	Journal *journal.Handle
}

// Options configures a Recorder.
type Options struct {
	Layout          archive.Layout
	FilenamePadding int
	Workers         int

	VodPollInterval    time.Duration
	VodWaitTimeout     time.Duration
	MatchWindow        time.Duration
	MatchSkew          time.Duration
	UpdateInterval     time.Duration
	InactivityTimeout  time.Duration
	PlaylistAttempts   int
	PlaylistRetryDelay time.Duration

	Clock clock.Clock
}

func (o *Options) normalize() {
	if o.FilenamePadding <= 0 {
		o.FilenamePadding = 5
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.VodPollInterval <= 0 {
		o.VodPollInterval = time.Minute
	}
	if o.VodWaitTimeout <= 0 {
		o.VodWaitTimeout = 30 * time.Minute
	}
	if o.MatchWindow <= 0 {
		o.MatchWindow = 10 * time.Minute
	}
	if o.MatchSkew <= 0 {
		o.MatchSkew = time.Minute
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = 5 * time.Minute
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 20 * time.Minute
	}
	if o.PlaylistAttempts <= 0 {
		o.PlaylistAttempts = 4
	}
	if o.PlaylistRetryDelay <= 0 {
		o.PlaylistRetryDelay = time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}

// Recorder archives the VOD of one broadcast. It runs once.
type Recorder struct {
	deps   Deps
	opts   Options
	stream twitch.Stream
	logger zerolog.Logger

	mu     sync.Mutex
	status Status
	vodID  string

	completedMu sync.Mutex
	completed   map[string]struct{}
}

// New creates an idle Recorder for stream.
func New(deps Deps, stream twitch.Stream, opts Options) *Recorder {
	opts.normalize()
	return &Recorder{
		deps:   deps,
		opts:   opts,
		stream: stream,
		logger: log.WithChannel("vod", stream.UserLogin).With().
			Str(log.FieldStreamID, stream.ID).Logger(),
		status:    StatusIdle,
		completed: make(map[string]struct{}),
	}
}

// Status returns the current state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// VodID returns the matched VOD id, empty before WaitForVod finished.
func (r *Recorder) VodID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vodID
}

// Completed returns how many segment names were downloaded.
func (r *Recorder) Completed() int {
	r.completedMu.Lock()
	defer r.completedMu.Unlock()
	return len(r.completed)
}

func (r *Recorder) setStatus(to Status) {
	r.mu.Lock()
	from := r.status
	r.status = to
	r.mu.Unlock()
	if from == to {
		return
	}
	r.logger.Info().
		Str(log.FieldEvent, "vod.state").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("vod recorder state change")
	metrics.SetRecorderState("vod", r.stream.UserLogin, string(to), allStatuses)
}

// vodSession is the per-run state of the download loop.
type vodSession struct {
	*archive.Session
	recordingID int64
	playlistURL string
	vod         twitch.Video
}

// Start runs the recorder to completion. Done returns nil; every failure ends
// in the Error state and is returned.
func (r *Recorder) Start(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.status != StatusIdle {
		r.mu.Unlock()
		return ErrNotIdle
	}
	r.mu.Unlock()

	defer func() {
		if err != nil {
			r.setStatus(StatusError)
			metrics.RecordRecorderSession("vod", "error")
			return
		}
		r.setStatus(StatusDone)
		metrics.RecordRecorderSession("vod", "ok")
	}()

	ctx = log.ContextWithRunID(ctx, r.stream.ID)
	user, err := r.deps.Platform.UserByLogin(ctx, r.stream.UserLogin)
	if err != nil {
		return fmt.Errorf("resolve user %s: %w", r.stream.UserLogin, err)
	}

	r.setStatus(StatusWaitForVod)
	vod, err := r.waitForVod(ctx, user.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.vodID = vod.ID
	r.mu.Unlock()

	r.setStatus(StatusInitDownload)
	s, err := r.initDownload(ctx, vod)
	if err != nil {
		return err
	}
	defer func() {
		r.deps.Journal.StopRecording(ctx, r.opts.Clock.Now(), s.recordingID)
		if cerr := s.Close(); cerr != nil {
			r.logger.Warn().Err(cerr).Msg("closing vod logs failed")
		}
	}()

	return r.download(ctx, s)
}

func (r *Recorder) waitForVod(ctx context.Context, userID string) (twitch.Video, error) {
	deadline := r.opts.Clock.Now().Add(r.opts.VodWaitTimeout)
	for {
		videos, err := r.deps.Platform.Videos(ctx, userID, "archive")
		if err != nil {
			if ctx.Err() != nil {
				return twitch.Video{}, ctx.Err()
			}
			r.logger.Warn().Err(err).Msg("listing videos failed")
		}
		if v, ok := r.match(videos); ok {
			r.logger.Info().Str(log.FieldVodID, v.ID).Msg("vod found")
			return v, nil
		}
		if !r.opts.Clock.Now().Add(r.opts.VodPollInterval).Before(deadline) {
			return twitch.Video{}, fmt.Errorf("%w: stream %s", ErrVodNotFound, r.stream.ID)
		}
		if err := clock.Sleep(ctx, r.opts.Clock, r.opts.VodPollInterval); err != nil {
			return twitch.Video{}, err
		}
	}
}

// match picks the first VOD created within the window around the stream start.
func (r *Recorder) match(videos []twitch.Video) (twitch.Video, bool) {
	for _, v := range videos {
		if v.StreamID != "" && v.StreamID == r.stream.ID {
			return v, true
		}
		d := v.CreatedAt.Sub(r.stream.StartedAt)
		if d >= -r.opts.MatchSkew && d <= r.opts.MatchWindow {
			return v, true
		}
	}
	return twitch.Video{}, false
}

func (r *Recorder) initDownload(ctx context.Context, vod twitch.Video) (*vodSession, error) {
	sess, err := r.opts.Layout.OpenSession(archive.KindVod, r.stream.StartedAt, vod.ID)
	if err != nil {
		return nil, fmt.Errorf("open vod folder: %w", err)
	}
	s := &vodSession{Session: sess, vod: vod}

	raw := []byte(r.stream.Raw)
	if len(raw) == 0 {
		raw, _ = json.Marshal(r.stream)
	}
	if err := archive.WriteJSON(sess.StreamSnapshotPath(), raw); err != nil {
		r.logger.Warn().Err(err).Msg("stream snapshot failed")
	}
	s.recordingID = r.deps.Journal.StartRecording(ctx, r.opts.Clock.Now(), sess.Dir, r.stream.UserLogin)
	r.deps.Journal.UpdateStreamSnapshot(ctx, s.recordingID, r.stream.ID, string(raw))

	s.playlistURL, err = r.resolveURL(ctx, vod.ID)
	if err != nil {
		r.deps.Journal.StopRecording(ctx, r.opts.Clock.Now(), s.recordingID)
		_ = sess.Close()
		return nil, err
	}
	return s, nil
}

// resolveURL tries the cdn guess first and the token path second.
func (r *Recorder) resolveURL(ctx context.Context, vodID string) (string, error) {
	u, guessErr := r.deps.Resolver.GuessVodURL(ctx, r.stream.UserLogin, r.stream.ID, r.stream.StartedAt)
	if guessErr == nil {
		return u, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	r.logger.Info().Err(guessErr).Msg("cdn guess failed, using playback token")

	u, tokenErr := r.deps.Resolver.ResolveVod(ctx, vodID)
	if tokenErr == nil {
		return u, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", fmt.Errorf("%w: vod %s: %w", ErrNoPlaylist, vodID, errors.Join(guessErr, tokenErr))
}

func (r *Recorder) download(ctx context.Context, s *vodSession) error {
	p := newPool(r.opts.Workers, func(ctx context.Context, t task) bool {
		return r.fetch(ctx, s, t)
	})

	var idleSince time.Time
	for {
		r.setStatus(StatusDownloading)
		n := r.poll(ctx, s, p)
		if err := ctx.Err(); err != nil {
			return err
		}

		now := r.opts.Clock.Now()
		if n > 0 {
			idleSince = time.Time{}
		} else if idleSince.IsZero() {
			idleSince = now
		} else if now.Sub(idleSince) > r.opts.InactivityTimeout {
			r.logger.Info().Int("completed", r.Completed()).Msg("vod inactive, download finished")
			return nil
		}

		r.setStatus(StatusWaitForUpdate)
		if err := clock.Sleep(ctx, r.opts.Clock, r.opts.UpdateInterval); err != nil {
			return err
		}
	}
}

// poll loads the playlist once and downloads every new segment. It returns the
// number of new segments the playlist listed, whether or not they landed.
func (r *Recorder) poll(ctx context.Context, s *vodSession, p *pool) int {
	body, pl, err := r.loadPlaylist(ctx, s.playlistURL)
	if err == nil && len(pl.Segments) == 0 {
		err = hls.ErrEmptyPlaylist
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		r.logger.Warn().Err(err).Msg("vod playlist unavailable, resolving again")
		if u, rerr := r.resolveURL(ctx, s.vod.ID); rerr == nil {
			s.playlistURL = u
		} else if ctx.Err() == nil {
			r.logger.Warn().Err(rerr).Msg("vod playlist could not be resolved")
		}
		return 0
	}
	if _, err := s.Playlist.Write(append(body, '\n')); err != nil {
		r.logger.Warn().Err(err).Msg("playlist capture failed")
	}

	tasks := r.collect(s, pl)
	if len(tasks) == 0 {
		return 0
	}
	r.logger.Debug().Int("new", len(tasks)).Msg("dispatching vod segments")
	landed := p.run(ctx, tasks)
	if landed < len(tasks) && ctx.Err() == nil {
		r.logger.Info().Int("new", len(tasks)).Int("landed", landed).Msg("vod segments left for the next poll")
	}
	return len(tasks)
}

func (r *Recorder) loadPlaylist(ctx context.Context, rawURL string) ([]byte, *hls.MediaPlaylist, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.PlaylistAttempts; attempt++ {
		body, err := r.deps.Platform.FetchPlaylist(ctx, rawURL)
		if err == nil && !hls.IsPlaylist(body) {
			err = hls.ErrNotPlaylist
		}
		if err == nil {
			pl, perr := hls.ParseMedia(body)
			if perr == nil {
				return body, pl, nil
			}
			err = perr
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if attempt < r.opts.PlaylistAttempts {
			if err := clock.Sleep(ctx, r.opts.Clock, r.opts.PlaylistRetryDelay); err != nil {
				return nil, nil, err
			}
		}
	}
	return nil, nil, lastErr
}

// collect turns playlist entries into download tasks, skipping everything
// already completed or on disk.
func (r *Recorder) collect(s *vodSession, pl *hls.MediaPlaylist) []task {
	var out []task
	seen := make(map[string]struct{}, len(pl.Segments))
	for _, seg := range pl.Segments {
		name := segmentName(seg.URI)
		if name == "" {
			continue
		}
		if strings.HasSuffix(name, "-unmuted.ts") {
			if r.isCompleted(strings.TrimSuffix(name, "-unmuted.ts") + ".ts") {
				continue
			}
			name = strings.TrimSuffix(name, "-unmuted.ts") + "-muted.ts"
		}
		if r.isCompleted(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		target := archive.PadName(name, r.opts.FilenamePadding)
		dst, err := s.Confine(target)
		if err != nil {
			r.logger.Warn().Err(err).Str(log.FieldSegment, name).Msg("skipping segment outside the session folder")
			continue
		}
		if archive.Exists(dst) {
			continue
		}

		ref := seg.URI
		if name != segmentName(seg.URI) {
			ref = strings.TrimSuffix(seg.URI, segmentName(seg.URI)) + name
		}
		u, err := hls.ResolveURI(s.playlistURL, ref)
		if err != nil {
			r.logger.Warn().Err(err).Str(log.FieldSegment, name).Msg("skipping segment with bad uri")
			continue
		}
		out = append(out, task{
			name:     name,
			target:   target,
			url:      u,
			seq:      seg.Sequence,
			duration: seg.Duration,
			ts:       seg.ProgramTime,
		})
	}
	return out
}

// segmentName is the last path element of a playlist entry without its query.
func segmentName(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if uri == "" {
		return ""
	}
	return path.Base(uri)
}

func (r *Recorder) isCompleted(name string) bool {
	r.completedMu.Lock()
	defer r.completedMu.Unlock()
	_, ok := r.completed[name]
	return ok
}

func (r *Recorder) markCompleted(name string) {
	r.completedMu.Lock()
	r.completed[name] = struct{}{}
	r.completedMu.Unlock()
}

func (r *Recorder) fetch(ctx context.Context, s *vodSession, t task) bool {
	if err := s.Index.Printf("%s,%s", t.target, strconv.FormatFloat(t.duration, 'f', -1, 64)); err != nil {
		r.logger.Warn().Err(err).Msg("index write failed")
	}
	r.deps.Journal.StartFile(ctx, s.recordingID, t.target, t.seq, t.duration, t.ts)

	res, err := r.deps.Fetcher.Fetch(ctx, segment.Request{
		URL:  t.url,
		Path: s.File(t.target),
		Name: t.target,
		Log:  s.Transfer,
		OnExpected: func(n int64) {
			r.deps.Journal.UpdateFileExpectedSize(ctx, s.recordingID, t.target, n)
		},
	})
	if err != nil {
		r.logger.Warn().Err(err).Str(log.FieldSegment, t.target).Msg("vod segment failed")
		r.deps.Journal.UpdateFileStatus(ctx, s.recordingID, t.target, journal.StatusError)
		return false
	}
	r.markCompleted(t.name)
	r.deps.Journal.UpdateFileDownloadedSize(ctx, s.recordingID, t.target, res.Written)
	r.deps.Journal.UpdateFileStatus(ctx, s.recordingID, t.target, journal.StatusDone)
	return true
}
