// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vod discovers the on-demand recording of a finished or running
// broadcast and drains its segments with a bounded worker pool.
package vod

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/streamkeeper/internal/segment"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

var (
	// ErrNotIdle is returned by Start on a recorder that already ran.
	ErrNotIdle = errors.New("vod recorder is not idle")
	// ErrVodNotFound is returned when no matching VOD appeared in time.
	ErrVodNotFound = errors.New("no matching vod found")
	// ErrNoPlaylist is returned when neither the cdn guess nor the token path yields a playlist.
	ErrNoPlaylist = errors.New("no vod playlist url")
	// ErrStreamNotFound is returned when discovery never saw the channel live.
	ErrStreamNotFound = errors.New("stream not found")
)

// Status is the recorder state.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusWaitForVod    Status = "wait_for_vod"
	StatusInitDownload  Status = "init_download"
	StatusDownloading   Status = "downloading"
	StatusWaitForUpdate Status = "wait_for_update"
	StatusDone          Status = "done"
	StatusError         Status = "error"
)

var allStatuses = []string{
	string(StatusIdle), string(StatusWaitForVod), string(StatusInitDownload),
	string(StatusDownloading), string(StatusWaitForUpdate), string(StatusDone), string(StatusError),
}

// Platform is the subset of the platform API the recorder needs.
type Platform interface {
	UserByLogin(ctx context.Context, login string) (*twitch.User, error)
	StreamStatus(ctx context.Context, login string) (*twitch.Stream, error)
	Videos(ctx context.Context, userID, videoType string) ([]twitch.Video, error)
	FetchPlaylist(ctx context.Context, rawURL string) ([]byte, error)
}

// Resolver finds the VOD media playlist.
type Resolver interface {
	GuessVodURL(ctx context.Context, channel, streamID string, start time.Time) (string, error)
	ResolveVod(ctx context.Context, vodID string) (string, error)
}

// Fetcher downloads one segment.
type Fetcher interface {
	Fetch(ctx context.Context, req segment.Request) (segment.Result, error)
}
