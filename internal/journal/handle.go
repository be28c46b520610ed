// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

const opTimeout = 10 * time.Second

// Handle is what recorders hold. Every method on a nil *Handle is a no-op,
// and backend errors are logged and counted instead of returned.
type Handle struct {
	j       Journal
	backend string
	logger  zerolog.Logger
}

// NewHandle wraps j. A nil j yields a nil handle.
func NewHandle(backend string, j Journal) *Handle {
	if j == nil {
		return nil
	}
	return &Handle{
		j:       j,
		backend: backend,
		logger:  log.WithComponent("journal").With().Str("backend", backend).Logger(),
	}
}

// Backend names the store, "none" for a nil handle.
func (h *Handle) Backend() string {
	if h == nil {
		return BackendNone
	}
	return h.backend
}

// Journal exposes the wrapped backend, nil for a nil handle.
func (h *Handle) Journal() Journal {
	if h == nil {
		return nil
	}
	return h.j
}

func (h *Handle) run(ctx context.Context, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	err := fn(ctx)
	metrics.RecordJournalOp(h.backend, op, err)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldEvent, "journal."+op).Msg("journal write failed")
	}
}

// StartRecording returns the new recording id, 0 when unavailable.
func (h *Handle) StartRecording(ctx context.Context, start time.Time, folder, channel string) int64 {
	if h == nil {
		return 0
	}
	var id int64
	h.run(ctx, "start_recording", func(ctx context.Context) error {
		var err error
		id, err = h.j.StartRecording(ctx, start, folder, channel)
		return err
	})
	return id
}

func (h *Handle) StopRecording(ctx context.Context, stop time.Time, id int64) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "stop_recording", func(ctx context.Context) error {
		return h.j.StopRecording(ctx, stop, id)
	})
}

func (h *Handle) UpdateStreamSnapshot(ctx context.Context, id int64, streamID, data string) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "stream_snapshot", func(ctx context.Context) error {
		return h.j.UpdateStreamSnapshot(ctx, id, streamID, data)
	})
}

func (h *Handle) UpdateDelayedStreamSnapshot(ctx context.Context, id int64, streamID, data string) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "stream_snapshot_delayed", func(ctx context.Context) error {
		return h.j.UpdateDelayedStreamSnapshot(ctx, id, streamID, data)
	})
}

func (h *Handle) StartFile(ctx context.Context, id int64, name string, seq int64, duration float64, ts time.Time) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "start_file", func(ctx context.Context) error {
		return h.j.StartFile(ctx, id, name, seq, duration, ts)
	})
}

func (h *Handle) UpdateFileExpectedSize(ctx context.Context, id int64, name string, size int64) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "file_expected_size", func(ctx context.Context) error {
		return h.j.UpdateFileExpectedSize(ctx, id, name, size)
	})
}

func (h *Handle) UpdateFileDownloadedSize(ctx context.Context, id int64, name string, size int64) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "file_downloaded_size", func(ctx context.Context) error {
		return h.j.UpdateFileDownloadedSize(ctx, id, name, size)
	})
}

func (h *Handle) UpdateFileStatus(ctx context.Context, id int64, name string, status Status) {
	if h == nil || id == 0 {
		return
	}
	h.run(ctx, "file_status", func(ctx context.Context) error {
		return h.j.UpdateFileStatus(ctx, id, name, status)
	})
}

// Ping checks the backend; a nil handle is always healthy.
func (h *Handle) Ping(ctx context.Context) error {
	if h == nil {
		return nil
	}
	return h.j.Ping(ctx)
}

func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	return h.j.Close()
}
