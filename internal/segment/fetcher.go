// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segment downloads single media segments with resume, an idle-read
// timeout, a length check and an atomic rename into place.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
	"github.com/ManuGH/streamkeeper/internal/twitch"
)

var (
	// ErrIdleTimeout is returned when the body stalls longer than the idle timeout.
	ErrIdleTimeout = errors.New("segment body idle timeout")
	// ErrSizeMismatch is returned when the stored length differs from the declared length.
	ErrSizeMismatch = errors.New("segment size mismatch")
	// ErrAttemptsExhausted wraps the last error once every attempt failed.
	ErrAttemptsExhausted = errors.New("segment attempts exhausted")
	// ErrRangeNotSatisfiable is returned when the server rejects the resume offset.
	ErrRangeNotSatisfiable = errors.New("resume range not satisfiable")
)

const (
	defaultAttempts    = 5
	defaultIdleTimeout = 30 * time.Second
	tempSuffix         = ".tmp"
)

// Mirror receives every finished segment file.
type Mirror interface {
	Upload(ctx context.Context, path string) error
}

// Options configures a Fetcher.
type Options struct {
	Attempts    int
	IdleTimeout time.Duration
	// Kind labels metrics ("live", "vod").
	Kind   string
	Mirror Mirror
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// Request describes one segment download.
type Request struct {
	URL string
	// Path is the final file; the partial download lives at Path + ".tmp".
	Path string
	// Name is the label used in transfer log lines.
	Name string
	Log  io.Writer
	// OnExpected is called with the declared total size once it is known.
	OnExpected func(int64)
}

// Result reports a finished download. Expected is -1 when the server did not
// declare a length.
type Result struct {
	Written  int64
	Expected int64
	Attempts int
	Resumed  bool
}

// Fetcher downloads segments. It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a Fetcher using client for transfers.
func New(client *http.Client, opts Options) *Fetcher {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Kind == "" {
		opts.Kind = "segment"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	logger := log.WithComponent("segment")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Fetcher{client: client, opts: opts, logger: logger}
}

// Fetch downloads req.URL into req.Path, retrying up to the configured number
// of attempts. Every attempt writes one line to req.Log.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	metrics.SegmentStarted(f.opts.Kind)
	defer metrics.SegmentFinished(f.opts.Kind)

	logger := f.logger.With().Str(log.FieldSegment, req.Name).Logger()
	var lastErr error
	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1}, err
		}

		res, err := f.attempt(ctx, req)
		res.Attempts = attempt
		if err == nil {
			metrics.RecordSegmentAttempt(f.opts.Kind, "ok")
			metrics.RecordSegmentOutcome(f.opts.Kind, "done", res.Written)
			f.logLine(req, fmt.Sprintf("ok %d/%s", res.Written, formatExpected(res.Expected)))
			f.mirror(ctx, req, logger)
			return res, nil
		}

		lastErr = err
		metrics.RecordSegmentAttempt(f.opts.Kind, "error")
		f.logLine(req, "err: "+err.Error())
		logger.Debug().
			Err(err).
			Int(log.FieldAttempt, attempt).
			Msg("segment attempt failed")

		if ctx.Err() != nil {
			return Result{Attempts: attempt}, ctx.Err()
		}
	}

	metrics.RecordSegmentOutcome(f.opts.Kind, "failed", 0)
	return Result{Attempts: f.opts.Attempts, Expected: -1}, fmt.Errorf("%w: %s: %w", ErrAttemptsExhausted, req.Name, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, req Request) (Result, error) {
	res := Result{Expected: -1}
	tmp := req.Path + tempSuffix

	var offset int64
	if fi, err := os.Stat(tmp); err == nil && fi.Mode().IsRegular() {
		offset = fi.Size()
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return res, err
	}
	if offset > 0 {
		httpReq.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	// The idle timer also covers the wait for response headers.
	idle := newIdleTimer(f.opts.IdleTimeout, func() { cancel(ErrIdleTimeout) })
	defer idle.stop()

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return res, idleCause(reqCtx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
		res.Resumed = true
		metrics.RecordSegmentResume(f.opts.Kind)
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		_ = os.Remove(tmp)
		return res, ErrRangeNotSatisfiable
	default:
		return res, &twitch.StatusError{Endpoint: "segment", Status: resp.StatusCode}
	}

	if resp.ContentLength >= 0 {
		res.Expected = resp.ContentLength + offset
		if req.OnExpected != nil {
			req.OnExpected(res.Expected)
		}
	}

	file, err := os.OpenFile(tmp, flags, 0o644) // #nosec G302 -- archive files are world-readable
	if err != nil {
		return res, fmt.Errorf("open temp file: %w", err)
	}
	n, copyErr := io.Copy(file, &idleReader{r: resp.Body, timer: idle})
	closeErr := file.Close()
	if copyErr != nil {
		return res, idleCause(reqCtx, copyErr)
	}
	if closeErr != nil {
		return res, fmt.Errorf("close temp file: %w", closeErr)
	}

	total := offset + n
	res.Written = total
	if res.Expected >= 0 && total != res.Expected {
		if total > res.Expected {
			_ = os.Remove(tmp)
		}
		return res, fmt.Errorf("%w: wrote %d of %d", ErrSizeMismatch, total, res.Expected)
	}

	if err := os.Rename(tmp, req.Path); err != nil {
		return res, fmt.Errorf("rename segment: %w", err)
	}
	return res, nil
}

func (f *Fetcher) mirror(ctx context.Context, req Request, logger zerolog.Logger) {
	if f.opts.Mirror == nil {
		return
	}
	if err := f.opts.Mirror.Upload(ctx, req.Path); err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, req.Path).Msg("segment mirror upload failed")
	}
}

func (f *Fetcher) logLine(req Request, msg string) {
	if req.Log == nil {
		return
	}
	_, _ = fmt.Fprintf(req.Log, "%s %s %s\n", f.opts.Clock.Now().UTC().Format(time.RFC3339), req.Name, msg)
}

func formatExpected(n int64) string {
	if n < 0 {
		return "?"
	}
	return strconv.FormatInt(n, 10)
}

func idleCause(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrIdleTimeout) {
		return ErrIdleTimeout
	}
	return err
}

// idleTimer fires once no read made progress for the timeout.
type idleTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	timeout time.Duration
}

func newIdleTimer(timeout time.Duration, fire func()) *idleTimer {
	return &idleTimer{t: time.AfterFunc(timeout, fire), timeout: timeout}
}

func (it *idleTimer) reset() {
	it.mu.Lock()
	it.t.Reset(it.timeout)
	it.mu.Unlock()
}

func (it *idleTimer) stop() {
	it.mu.Lock()
	it.t.Stop()
	it.mu.Unlock()
}

type idleReader struct {
	r     io.Reader
	timer *idleTimer
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.reset()
	}
	return n, err
}
