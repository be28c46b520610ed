// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package twitch is the platform API client: Helix lookups, app access tokens,
// playback access tokens and usher/CDN playlist requests.
package twitch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/streamkeeper/internal/cache"
	"github.com/ManuGH/streamkeeper/internal/platform/httpx"
	"github.com/ManuGH/streamkeeper/internal/resilience"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
)

// Options configures endpoints, credentials and request behaviour.
type Options struct {
	HelixURL     string
	AuthURL      string
	GQLURL       string
	LegacyAPIURL string
	UsherURL     string

	ClientID       string
	ClientSecret   string
	OAuthVideo     string
	GQLClientID    string
	LegacyClientID string

	Timeout        time.Duration
	MaxRetries     int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	UserAgent      string

	BreakerFailures int
	BreakerReset    time.Duration

	// Cache holds user lookups; nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration

	HTTPClient *http.Client
}

const (
	defaultTimeout         = 10 * time.Second
	defaultRetries         = 2
	defaultBackoff         = 250 * time.Millisecond
	defaultMaxBackoff      = 4 * time.Second
	defaultRateLimit       = 8
	defaultRateLimitBurst  = 16
	defaultBreakerFailures = 3
	defaultBreakerReset    = time.Minute
	defaultCacheTTL        = 6 * time.Hour
)

// Client talks to the streaming platform.
type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker

	tokenMu     sync.Mutex
	appToken    string
	appTokenExp time.Time
	now         func() time.Time

	rnd *rand.Rand
	mu  sync.Mutex
}

// NewClient creates a platform client with normalized options.
func NewClient(opts Options) *Client {
	nopts := normalizeOptions(opts)
	hc := nopts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(nopts.Timeout)
	}
	return &Client{
		opts:       nopts,
		httpClient: hc,
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		breaker:    resilience.NewCircuitBreaker("token_primary", nopts.BreakerFailures, nopts.BreakerReset,
			// An offline channel answers with a null token; that says nothing about the endpoint.
			resilience.WithFailureFilter(func(err error) bool { return !errors.Is(err, ErrNoToken) })),
		now:        time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

func normalizeOptions(opts Options) Options {
	trim := func(s string) string { return strings.TrimRight(strings.TrimSpace(s), "/") }
	opts.HelixURL = trim(opts.HelixURL)
	opts.GQLURL = trim(opts.GQLURL)
	opts.LegacyAPIURL = trim(opts.LegacyAPIURL)
	opts.UsherURL = trim(opts.UsherURL)
	opts.AuthURL = strings.TrimSpace(opts.AuthURL)

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "streamkeeper"
	}
	return opts
}

// request describes one logical platform call.
type request struct {
	method   string
	url      string
	endpoint string // metric/trace label, low cardinality
	body     []byte
	header   http.Header
	// limited requests pass the API rate limiter; CDN traffic does not.
	limited bool
	// retries overrides opts.MaxRetries when >= 0.
	retries int
}

func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	tracer := telemetry.Tracer("streamkeeper.twitch")
	urlLabel := traceURL(r.url)
	ctx, span := tracer.Start(ctx, "streamkeeper.platform.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", r.method),
		attribute.String("http.route", r.endpoint),
		attribute.String("http.url", urlLabel),
	)
	defer span.End()

	retries := c.opts.MaxRetries
	if r.retries >= 0 {
		retries = r.retries
	}
	maxAttempts := retries + 1
	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, attemptSpan := tracer.Start(ctx, "streamkeeper.platform.request.attempt", trace.WithSpanKind(trace.SpanKindClient))
		attemptSpan.SetAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("retry", attempt > 1),
		)

		if r.limited && c.limiter != nil {
			if err := c.limiter.Wait(attemptCtx); err != nil {
				attemptSpan.RecordError(err)
				attemptSpan.SetStatus(codes.Error, err.Error())
				attemptSpan.End()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, r.method, r.url, body)
		if err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetStatus(codes.Error, err.Error())
			attemptSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		for k, vs := range r.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		retry := attempt < maxAttempts && shouldRetry(resp, err) && ctx.Err() == nil
		recordAttemptMetrics(r.method, r.endpoint, status, duration, err, retry)

		attemptSpan.SetAttributes(telemetry.HTTPAttributes(r.method, r.endpoint, urlLabel, status)...)
		if err != nil {
			attemptSpan.RecordError(err)
		}
		if err != nil || status >= http.StatusBadRequest {
			statusText := http.StatusText(status)
			if statusText == "" {
				statusText = "request failed"
			}
			attemptSpan.SetStatus(codes.Error, statusText)
		} else {
			attemptSpan.SetStatus(codes.Ok, "")
		}
		attemptSpan.End()

		if err == nil && status < http.StatusInternalServerError {
			span.SetAttributes(telemetry.HTTPAttributes(r.method, r.endpoint, urlLabel, status)...)
			if status >= http.StatusBadRequest {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return resp, nil
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		lastErr = err
		lastStatus = status

		if !retry {
			break
		}

		if err := sleepWithContext(ctx, c.backoffFor(attempt-1)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		return nil, lastErr
	}
	span.SetAttributes(telemetry.HTTPAttributes(r.method, r.endpoint, urlLabel, lastStatus)...)
	span.SetStatus(codes.Error, http.StatusText(lastStatus))
	return nil, &StatusError{Endpoint: r.endpoint, Status: lastStatus}
}

// expectOK closes resp and returns a StatusError unless the status is 200.
func expectOK(resp *http.Response, endpoint string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return &StatusError{Endpoint: endpoint, Status: resp.StatusCode}
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func (c *Client) backoffFor(attempt int) time.Duration {
	wait := c.opts.Backoff * time.Duration(1<<attempt)
	if wait > c.opts.MaxBackoff {
		wait = c.opts.MaxBackoff
	}
	jitter := time.Duration(c.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (c *Client) randInt63n(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// traceURL strips query strings, which carry tokens and signatures.
func traceURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	label := u.Host + u.Path
	if u.RawQuery != "" {
		label += "?"
	}
	return label
}
