// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/log"
)

// ShutdownHook releases one resource during shutdown. Hooks run in reverse
// registration order, so a resource opened first is closed last.
type ShutdownHook func(ctx context.Context) error

// ServerConfig holds the ops server settings. An empty ListenAddr disables the server.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

const defaultShutdownTimeout = 30 * time.Second

// DefaultServerConfig returns the ops server settings for addr.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		ListenAddr:      addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Manager owns the ops server and the shutdown sequence.
type Manager interface {
	// Start serves until ctx is cancelled or the server fails, then shuts down.
	Start(ctx context.Context) error
	// Shutdown stops the server and runs the hooks. Only the first call does work.
	Shutdown(ctx context.Context) error
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	cfg    ServerConfig
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	hooks    []namedHook
	server   *http.Server
	addr     net.Addr
	started  bool
	stopping bool
}

// NewManager validates deps and returns a manager that has not started yet.
func NewManager(cfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &manager{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	serveErr, err := m.listen()
	if err != nil {
		m.logger.Error().Err(err).Str(log.FieldEvent, "ops.listen.failed").Msg("ops server could not bind")
		return errors.Join(err, m.Shutdown(context.WithoutCancel(ctx)))
	}

	select {
	case err := <-serveErr:
		m.logger.Error().Err(err).Msg("ops server failed, shutting down")
		if shutdownErr := m.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown requested")
		return m.Shutdown(context.WithoutCancel(ctx))
	}
}

// listen binds synchronously so address conflicts surface from Start.
func (m *manager) listen() (<-chan error, error) {
	serveErr := make(chan error, 1)
	if m.cfg.ListenAddr == "" {
		m.logger.Info().Msg("ops server disabled")
		return serveErr, nil
	}

	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("ops server: %w", err)
	}
	srv := &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.cfg.ReadTimeout,
		ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
		WriteTimeout:      m.cfg.WriteTimeout,
		IdleTimeout:       m.cfg.IdleTimeout,
		MaxHeaderBytes:    m.cfg.MaxHeaderBytes,
	}
	m.mu.Lock()
	m.server = srv
	m.addr = ln.Addr()
	m.mu.Unlock()

	m.logger.Info().Str("addr", ln.Addr().String()).Msg("ops server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("ops server: %w", err)
		}
	}()
	return serveErr, nil
}

// Addr is the bound ops address, nil until Start has bound it.
func (m *manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}
	m.mu.Lock()
	switch {
	case m.stopping:
		m.mu.Unlock()
		return nil
	case !m.started:
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.hooks...)
	srv := m.server
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops server shutdown: %w", err))
		}
	}
	errs = append(errs, m.runHooks(ctx, hooks)...)

	if len(errs) > 0 {
		m.logger.Error().Int("errors", len(errs)).Msg("shutdown finished with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("shutdown complete")
	return nil
}

func (m *manager) runHooks(ctx context.Context, hooks []namedHook) []error {
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		began := time.Now()
		err := h.hook(ctx)
		ev := m.logger.Debug()
		if err != nil {
			ev = m.logger.Error().Err(err)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
		ev.Str("hook", h.name).Dur("took", time.Since(began)).Msg("shutdown hook ran")
	}
	return errs
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}
