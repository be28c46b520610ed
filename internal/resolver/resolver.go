// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver turns a channel or VOD into a media playlist URL: playback
// token, usher master playlist, variant selection, with bounded retries.
package resolver

import (
	"context"
	"crypto/sha1" // #nosec G505 -- CDN path naming, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/hls"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

var (
	// ErrResolveFailed is returned once every resolve attempt failed.
	ErrResolveFailed = errors.New("playlist resolution failed")
	// ErrGuessFailed is returned when no CDN candidate answered.
	ErrGuessFailed = errors.New("no cdn candidate answered")
)

// CDNHosts are the VOD storage hosts probed by GuessVodURL, in order.
var CDNHosts = []string{
	"dqrpb9wgowsf5.cloudfront.net",
	"d2e2de1etea730.cloudfront.net",
	"d2vjef5jvl6bfs.cloudfron.net",
	"vod-secure.twitch.tv",
}

// Platform is the subset of the platform client the resolver needs.
type Platform interface {
	StreamToken(ctx context.Context, channel string) (twitch.AccessToken, error)
	LegacyStreamToken(ctx context.Context, channel string) (twitch.AccessToken, error)
	VideoToken(ctx context.Context, vodID string) (twitch.AccessToken, error)
	LiveMasterURL(channel string, tok twitch.AccessToken) string
	VodMasterURL(vodID string, tok twitch.AccessToken) string
	FetchPlaylist(ctx context.Context, rawURL string) ([]byte, error)
	Probe(ctx context.Context, rawURL string) (int, error)
}

// Options tunes retry behaviour.
type Options struct {
	Attempts      int
	Delay         time.Duration
	GuessAttempts int
	GuessBackoff  time.Duration
	Hosts         []string
	// Scheme of CDN candidate URLs, "https" unless overridden.
	Scheme string
	Clock  clock.Clock
}

// Resolver resolves playlist URLs. It is safe for concurrent use.
type Resolver struct {
	platform Platform
	opts     Options
	logger   zerolog.Logger

	resolutions atomic.Int64
}

// New creates a Resolver.
func New(platform Platform, opts Options) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}
	if opts.GuessAttempts <= 0 {
		opts.GuessAttempts = 3
	}
	if opts.GuessBackoff <= 0 {
		opts.GuessBackoff = time.Minute
	}
	if len(opts.Hosts) == 0 {
		opts.Hosts = CDNHosts
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Resolver{
		platform: platform,
		opts:     opts,
		logger:   log.WithComponent("resolver"),
	}
}

// Resolutions counts resolve operations started on this resolver.
func (r *Resolver) Resolutions() int64 { return r.resolutions.Load() }

// ResolveLive returns the media playlist URL of the best live variant.
func (r *Resolver) ResolveLive(ctx context.Context, channel string) (string, error) {
	r.resolutions.Add(1)
	ctx, span := telemetry.Tracer("streamkeeper.resolver").Start(ctx, "streamkeeper.resolve.live")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.ChannelKey, channel))

	logger := r.logger.With().Str(log.FieldChannel, channel).Logger()

	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		playlist, source, err := r.resolveLiveOnce(ctx, channel)
		span.AddEvent("attempt", trace.WithAttributes(telemetry.ResolveAttributes(channel, source, attempt)...))
		if err == nil {
			metrics.RecordPlaylistResolution("live", source, "ok")
			span.SetStatus(codes.Ok, "")
			logger.Debug().Str(log.FieldSource, source).Int(log.FieldAttempt, attempt).Msg("live playlist resolved")
			return playlist, nil
		}
		lastErr = err
		metrics.RecordPlaylistResolution("live", source, "error")
		logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("live playlist resolution failed")

		if attempt < r.opts.Attempts {
			if err := clock.Sleep(ctx, r.opts.Clock, r.opts.Delay); err != nil {
				span.RecordError(err)
				return "", err
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", fmt.Errorf("%w: %s: %w", ErrResolveFailed, channel, lastErr)
}

func (r *Resolver) resolveLiveOnce(ctx context.Context, channel string) (string, string, error) {
	source := "primary"
	tok, err := r.platform.StreamToken(ctx, channel)
	if err != nil {
		if ctx.Err() != nil {
			return "", source, ctx.Err()
		}
		r.logger.Debug().Err(err).Str(log.FieldChannel, channel).Msg("primary token failed, using legacy token")
		source = "legacy"
		tok, err = r.platform.LegacyStreamToken(ctx, channel)
		if err != nil {
			return "", source, err
		}
	}
	playlist, err := r.variantFromMaster(ctx, r.platform.LiveMasterURL(channel, tok))
	return playlist, source, err
}

// ResolveVod returns the media playlist URL of a VOD through its playback token.
func (r *Resolver) ResolveVod(ctx context.Context, vodID string) (string, error) {
	r.resolutions.Add(1)
	ctx, span := telemetry.Tracer("streamkeeper.resolver").Start(ctx, "streamkeeper.resolve.vod")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.VodIDKey, vodID))

	logger := r.logger.With().Str(log.FieldVodID, vodID).Logger()

	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		tok, err := r.platform.VideoToken(ctx, vodID)
		if err == nil {
			var playlist string
			playlist, err = r.variantFromMaster(ctx, r.platform.VodMasterURL(vodID, tok))
			if err == nil {
				metrics.RecordPlaylistResolution("vod", "token", "ok")
				span.SetStatus(codes.Ok, "")
				return playlist, nil
			}
		}
		lastErr = err
		metrics.RecordPlaylistResolution("vod", "token", "error")
		logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("vod playlist resolution failed")

		if attempt < r.opts.Attempts {
			if err := clock.Sleep(ctx, r.opts.Clock, r.opts.Delay); err != nil {
				span.RecordError(err)
				return "", err
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", fmt.Errorf("%w: vod %s: %w", ErrResolveFailed, vodID, lastErr)
}

func (r *Resolver) variantFromMaster(ctx context.Context, masterURL string) (string, error) {
	body, err := r.platform.FetchPlaylist(ctx, masterURL)
	if err != nil {
		return "", err
	}
	variants, err := hls.ParseMaster(body)
	if err != nil {
		return "", err
	}
	best, ok := hls.SelectVariant(variants)
	if !ok {
		return "", hls.ErrNoVariant
	}
	return hls.ResolveURI(masterURL, best.URI)
}

// CandidateURLs lists the CDN playlist URLs derived from a stream's identity.
func (r *Resolver) CandidateURLs(channel, streamID string, start time.Time) []string {
	ident := channel + "_" + streamID + "_" + strconv.FormatInt(start.Unix(), 10)
	sum := sha1.Sum([]byte(ident)) // #nosec G401
	prefix := hex.EncodeToString(sum[:])[:20]

	out := make([]string, 0, len(r.opts.Hosts))
	for _, host := range r.opts.Hosts {
		out = append(out, fmt.Sprintf("%s://%s/%s_%s/chunked/index-dvr.m3u8", r.opts.Scheme, host, prefix, ident))
	}
	return out
}

// GuessVodURL probes the CDN candidates for a stream's VOD playlist. The whole
// host sequence is tried GuessAttempts times with GuessBackoff in between.
func (r *Resolver) GuessVodURL(ctx context.Context, channel, streamID string, start time.Time) (string, error) {
	r.resolutions.Add(1)
	ctx, span := telemetry.Tracer("streamkeeper.resolver").Start(ctx, "streamkeeper.resolve.vod_guess")
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.ChannelKey, channel),
		attribute.String(telemetry.StreamIDKey, streamID),
	)

	logger := r.logger.With().Str(log.FieldChannel, channel).Str(log.FieldStreamID, streamID).Logger()
	candidates := r.CandidateURLs(channel, streamID, start)

	for attempt := 1; attempt <= r.opts.GuessAttempts; attempt++ {
		for _, u := range candidates {
			status, err := r.platform.Probe(ctx, u)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if err == nil && status == 200 {
				metrics.RecordPlaylistResolution("vod", "guess", "ok")
				span.SetStatus(codes.Ok, "")
				logger.Info().Int(log.FieldAttempt, attempt).Msg("vod playlist found on cdn")
				return u, nil
			}
			logger.Debug().Err(err).Int("status", status).Msg("cdn candidate rejected")
		}
		if attempt < r.opts.GuessAttempts {
			if err := clock.Sleep(ctx, r.opts.Clock, r.opts.GuessBackoff); err != nil {
				return "", err
			}
		}
	}

	metrics.RecordPlaylistResolution("vod", "guess", "error")
	span.SetStatus(codes.Error, ErrGuessFailed.Error())
	return "", fmt.Errorf("%w: %s/%s", ErrGuessFailed, channel, streamID)
}
