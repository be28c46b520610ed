// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
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

// maxEmptyRefreshes consecutive empty refreshes end the session.
const maxEmptyRefreshes = 2

const (
	triggerCongestion = "congestion"
	triggerEmpty      = "empty"
	triggerError      = "error"
)

// session is the per-run bookkeeping owned by the refresh loop.
type session struct {
	*archive.Session

	recordingID int64
	playlistURL string
	logger      zerolog.Logger
	downloads   sync.WaitGroup

	dispatched   int
	emptyStreak  int
	forceResolve bool
	interval     time.Duration
}

func (r *Recorder) refreshLoop(ctx context.Context, s *session) error {
	s.interval = r.opts.DefaultRefresh
	first := true
	wait := false

	for {
		if wait {
			if err := clock.Sleep(ctx, r.opts.Clock, s.interval); err != nil {
				return err
			}
		}
		wait = true

		if s.forceResolve {
			if err := r.reresolve(ctx, s, triggerError); err != nil {
				return err
			}
		} else if r.congested(s) {
			s.logger.Info().
				Int("dispatched", s.dispatched).
				Int64(log.FieldInFlight, r.inFlight.Load()).
				Msg("download congestion, refreshing playlist access")
			if err := r.reresolve(ctx, s, triggerCongestion); err != nil {
				return err
			}
		}

		pl, err := r.loadPlaylist(ctx, s)
		if err != nil && !errors.Is(err, hls.ErrEmptyPlaylist) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("playlist refresh failed")
			s.forceResolve = true
			continue
		}

		if err == nil && len(pl.Segments) == 0 && (first || pl.Ended) {
			s.logger.Info().Bool("ended", pl.Ended).Msg("playlist has no segments, ending session")
			return nil
		}
		if err != nil || len(pl.Segments) == 0 {
			s.emptyStreak++
			if s.emptyStreak >= maxEmptyRefreshes {
				s.logger.Info().Int("streak", s.emptyStreak).Msg("playlist stayed empty, ending session")
				return nil
			}
			if err := r.reresolve(ctx, s, triggerEmpty); err != nil {
				return err
			}
			wait = false
			continue
		}

		first = false
		s.emptyStreak = 0
		r.accept(ctx, s, pl)

		if pl.Ended {
			s.logger.Info().Str(log.FieldEvent, "live.endlist").Msg("stream ended")
			return nil
		}
		if d := pl.Segments[0].Duration; d > 0 {
			s.interval = time.Duration(d * float64(time.Second))
		}
	}
}

func (r *Recorder) congested(s *session) bool {
	return s.dispatched > r.opts.CongestionDispatchLimit &&
		r.inFlight.Load() >= int64(r.opts.RefreshConcurrencyThreshold)
}

func (r *Recorder) reresolve(ctx context.Context, s *session, trigger string) error {
	metrics.RecordLiveReresolve(trigger)
	u, err := r.deps.Resolver.ResolveLive(ctx, r.opts.Channel)
	if err != nil {
		return fmt.Errorf("re-resolve playlist after %s: %w", trigger, err)
	}
	s.playlistURL = u
	s.dispatched = 0
	s.forceResolve = false
	return nil
}

func (r *Recorder) loadPlaylist(ctx context.Context, s *session) (*hls.MediaPlaylist, error) {
	body, err := r.deps.Playlists.FetchPlaylist(ctx, s.playlistURL)
	if err != nil {
		return nil, err
	}
	if _, err := s.Playlist.Write(append(body, '\n')); err != nil {
		s.logger.Warn().Err(err).Msg("playlist capture failed")
	}
	return hls.ParseMedia(body)
}

// accept dispatches every segment above the high-water mark.
func (r *Recorder) accept(ctx context.Context, s *session, pl *hls.MediaPlaylist) {
	for _, seg := range pl.Segments {
		r.mu.Lock()
		if seg.Sequence <= r.highWater {
			r.mu.Unlock()
			continue
		}
		r.highWater = seg.Sequence
		r.mu.Unlock()

		segURL, err := hls.ResolveURI(s.playlistURL, seg.URI)
		if err != nil {
			s.logger.Warn().Err(err).Int64(log.FieldSequence, seg.Sequence).Msg("skipping segment with bad uri")
			continue
		}

		name := archive.SegmentName(seg.Sequence, r.opts.FilenamePadding)
		ts := ""
		if !seg.ProgramTime.IsZero() {
			ts = seg.ProgramTime.UTC().Format(time.RFC3339Nano)
		}
		if err := s.Index.Printf("%d,%s,%s", seg.Sequence, strconv.FormatFloat(seg.Duration, 'f', -1, 64), ts); err != nil {
			s.logger.Warn().Err(err).Msg("index write failed")
		}
		r.deps.Journal.StartFile(ctx, s.recordingID, name, seg.Sequence, seg.Duration, seg.ProgramTime)

		s.dispatched++
		r.dispatch(ctx, s, segURL, name)
	}
}

func (r *Recorder) dispatch(ctx context.Context, s *session, segURL, name string) {
	r.inFlight.Add(1)
	s.downloads.Add(1)
	go func() {
		defer s.downloads.Done()
		defer r.inFlight.Add(-1)

		res, err := r.deps.Fetcher.Fetch(ctx, segment.Request{
			URL:  segURL,
			Path: s.File(name),
			Name: name,
			Log:  s.Transfer,
			OnExpected: func(n int64) {
				r.deps.Journal.UpdateFileExpectedSize(ctx, s.recordingID, name, n)
			},
		})
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldSegment, name).Msg("segment abandoned")
			r.deps.Journal.UpdateFileStatus(ctx, s.recordingID, name, journal.StatusError)
			return
		}
		r.deps.Journal.UpdateFileDownloadedSize(ctx, s.recordingID, name, res.Written)
		r.deps.Journal.UpdateFileStatus(ctx, s.recordingID, name, journal.StatusDone)
	}()
}

// snapshots captures stream metadata at session start and once more after the
// recheck delay. It returns when ctx ends.
func (r *Recorder) snapshots(ctx context.Context, s *session) {
	var stream *twitch.Stream
	for {
		st, err := r.deps.Status.StreamStatus(ctx, r.opts.Channel)
		if err != nil && ctx.Err() == nil {
			s.logger.Debug().Err(err).Msg("stream status unavailable")
		}
		if st != nil {
			stream = st
			break
		}
		if clock.Sleep(ctx, r.opts.Clock, r.opts.StreamPollInterval) != nil {
			return
		}
	}
	if data, err := r.writeSnapshot(s.StreamSnapshotPath(), stream); err != nil {
		s.logger.Warn().Err(err).Msg("stream snapshot failed")
	} else {
		r.deps.Journal.UpdateStreamSnapshot(ctx, s.recordingID, stream.ID, data)
	}

	if clock.Sleep(ctx, r.opts.Clock, r.opts.StreamRecheckDelay) != nil {
		return
	}
	stream, err := r.deps.Status.StreamStatus(ctx, r.opts.Channel)
	if err != nil || stream == nil {
		if ctx.Err() == nil {
			s.logger.Info().Err(err).Msg("delayed stream recheck found no stream")
		}
		return
	}
	if data, err := r.writeSnapshot(s.DelayedSnapshotPath(), stream); err != nil {
		s.logger.Warn().Err(err).Msg("delayed stream snapshot failed")
	} else {
		r.deps.Journal.UpdateDelayedStreamSnapshot(ctx, s.recordingID, stream.ID, data)
	}
}

func (r *Recorder) writeSnapshot(path string, stream *twitch.Stream) (string, error) {
	raw := []byte(stream.Raw)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(stream); err != nil {
			return "", err
		}
	}
	if err := archive.WriteJSON(path, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
