// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package journal records recording sessions and their segment files in a
// queryable store. Journal failures never stop a recording.
package journal

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle of one file row.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusError       Status = "error"
	StatusDone        Status = "done"
)

// ErrNotFound is returned by readers for unknown recordings.
var ErrNotFound = errors.New("recording not found")

// Recording is one live session or VOD run.
type Recording struct {
	ID           int64      `json:"id"`
	Start        time.Time  `json:"start"`
	Folder       string     `json:"folder"`
	Channel      string     `json:"channel"`
	StreamID     string     `json:"streamId"`
	StreamData   string     `json:"streamData"`
	StreamID10   string     `json:"streamId10"`
	StreamData10 string     `json:"streamData10"`
	Stop         *time.Time `json:"stop,omitempty"`
}

// File is one segment of a recording.
type File struct {
	RecordingID    int64     `json:"recordingId"`
	Name           string    `json:"name"`
	Seq            int64     `json:"seq"`
	Duration       float64   `json:"duration"`
	Timestamp      time.Time `json:"timestamp"`
	ExpectedSize   int64     `json:"expectedSize"`
	DownloadedSize int64     `json:"downloadedSize"`
	Status         Status    `json:"status"`
}

// Journal is implemented by every backend.
type Journal interface {
	StartRecording(ctx context.Context, start time.Time, folder, channel string) (int64, error)
	StopRecording(ctx context.Context, stop time.Time, id int64) error
	UpdateStreamSnapshot(ctx context.Context, id int64, streamID, data string) error
	UpdateDelayedStreamSnapshot(ctx context.Context, id int64, streamID, data string) error
	StartFile(ctx context.Context, id int64, name string, seq int64, duration float64, ts time.Time) error
	UpdateFileExpectedSize(ctx context.Context, id int64, name string, size int64) error
	UpdateFileDownloadedSize(ctx context.Context, id int64, name string, size int64) error
	UpdateFileStatus(ctx context.Context, id int64, name string, status Status) error
	Ping(ctx context.Context) error
	Close() error
}

// Reader lists what a Journal stored.
type Reader interface {
	Recording(ctx context.Context, id int64) (*Recording, error)
	Files(ctx context.Context, id int64) ([]File, error)
}
