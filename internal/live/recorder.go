// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package live records a channel's live broadcast segment by segment while it
// is on air.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/archive"
	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/journal"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/segment"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

// ErrNotIdle is returned by Start while a session is running.
var ErrNotIdle = errors.New("live recorder is not idle")

// Status is the recorder state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusDownloading  Status = "downloading"
)

var allStatuses = []string{string(StatusIdle), string(StatusInitializing), string(StatusDownloading)}

// Resolver yields the media playlist URL of a live channel.
type Resolver interface {
	ResolveLive(ctx context.Context, channel string) (string, error)
}

// PlaylistSource downloads playlist bodies.
type PlaylistSource interface {
	FetchPlaylist(ctx context.Context, rawURL string) ([]byte, error)
}

// StatusSource reports the live stream of a channel, nil when offline.
type StatusSource interface {
	StreamStatus(ctx context.Context, channel string) (*twitch.Stream, error)
}

// Fetcher downloads one segment.
type Fetcher interface {
	Fetch(ctx context.Context, req segment.Request) (segment.Result, error)
}

// Deps are the collaborators of a Recorder.
type Deps struct {
	Resolver  Resolver
	Playlists PlaylistSource
	Status    StatusSource
	Fetcher   Fetcher
	// Journal may be nil.
	Journal *journal.Handle
}

// Options configures a Recorder.
type Options struct {
	Channel string
	Layout  archive.Layout

	FilenamePadding             int
	DefaultRefresh              time.Duration
	CongestionDispatchLimit     int
	RefreshConcurrencyThreshold int
	StreamPollInterval          time.Duration
	StreamRecheckDelay          time.Duration

	Clock clock.Clock
}

func (o *Options) normalize() {
	if o.FilenamePadding <= 0 {
		o.FilenamePadding = 5
	}
	if o.DefaultRefresh <= 0 {
		o.DefaultRefresh = 2 * time.Second
	}
	if o.CongestionDispatchLimit <= 0 {
		o.CongestionDispatchLimit = 10
	}
	if o.RefreshConcurrencyThreshold <= 0 {
		o.RefreshConcurrencyThreshold = 3
	}
	if o.StreamPollInterval <= 0 {
		o.StreamPollInterval = 3 * time.Second
	}
	if o.StreamRecheckDelay <= 0 {
		o.StreamRecheckDelay = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Channel   string `json:"channel"`
	Status    Status `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	HighWater int64  `json:"highWater"`
	InFlight  int64  `json:"inFlight"`
}

// Recorder records one channel. It is built once and reused across sessions;
// at most one session runs at a time.
type Recorder struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	status    Status
	sessionID string
	highWater int64

	inFlight atomic.Int64
}

// New creates an idle Recorder.
func New(deps Deps, opts Options) *Recorder {
	opts.normalize()
	r := &Recorder{
		deps:      deps,
		opts:      opts,
		logger:    log.WithChannel("live", opts.Channel),
		status:    StatusIdle,
		highWater: -1,
	}
	metrics.SetRecorderState("live", opts.Channel, string(StatusIdle), allStatuses)
	return r
}

// Status returns the current state.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot reports the recorder for the ops API.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Channel:   r.opts.Channel,
		Status:    r.status,
		SessionID: r.sessionID,
		HighWater: r.highWater,
		InFlight:  r.inFlight.Load(),
	}
}

// InFlight returns the number of running segment downloads.
func (r *Recorder) InFlight() int64 { return r.inFlight.Load() }

func (r *Recorder) transition(from, to Status) bool {
	r.mu.Lock()
	if r.status != from {
		r.mu.Unlock()
		return false
	}
	r.status = to
	r.mu.Unlock()

	r.logger.Info().
		Str(log.FieldEvent, "live.state").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("live recorder state change")
	metrics.SetRecorderState("live", r.opts.Channel, string(to), allStatuses)
	return true
}

func (r *Recorder) setStatus(to Status) {
	r.mu.Lock()
	from := r.status
	r.mu.Unlock()
	if from != to {
		r.transition(from, to)
	}
}

// Start records one session and blocks until it has ended and its downloads
// have drained. It returns ErrNotIdle when a session is already running. An
// empty first playlist or an ENDLIST ends the session without error.
func (r *Recorder) Start(ctx context.Context) (err error) {
	if !r.transition(StatusIdle, StatusInitializing) {
		return ErrNotIdle
	}
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.RecordRecorderSession("live", result)
		r.mu.Lock()
		r.sessionID = ""
		r.mu.Unlock()
		r.setStatus(StatusIdle)
	}()

	startedAt := r.opts.Clock.Now()
	playlistURL, err := r.deps.Resolver.ResolveLive(ctx, r.opts.Channel)
	if err != nil {
		r.logger.Error().Err(err).Msg("unable to resolve live playlist")
		return err
	}

	id := archive.SessionID(startedAt)
	sess, err := r.opts.Layout.OpenSession(archive.KindVideo, startedAt, id)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	r.mu.Lock()
	r.sessionID = id
	r.highWater = -1
	r.mu.Unlock()
	r.setStatus(StatusDownloading)

	ctx = log.ContextWithSessionID(ctx, id)
	logger := r.logger.With().Str(log.FieldSessionID, id).Logger()
	recID := r.deps.Journal.StartRecording(ctx, startedAt, sess.Dir, r.opts.Channel)

	s := &session{
		Session:     sess,
		recordingID: recID,
		playlistURL: playlistURL,
		logger:      logger,
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var snapWG sync.WaitGroup
	snapWG.Add(1)
	go func() {
		defer snapWG.Done()
		r.snapshots(sessCtx, s)
	}()

	err = r.refreshLoop(ctx, s)

	// Leaving Downloading cancels the snapshot timers; downloads keep the
	// outer context so they finish.
	cancel()
	snapWG.Wait()
	s.downloads.Wait()

	r.deps.Journal.StopRecording(ctx, r.opts.Clock.Now(), recID)
	if cerr := sess.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("closing session logs failed")
	}
	if err != nil {
		logger.Error().Err(err).Msg("live session ended with error")
		return err
	}
	logger.Info().Msg("live session ended")
	return nil
}
