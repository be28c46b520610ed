// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownBackend is returned for a backend other than memory or redis.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Config selects a backend. TTL sizes the memory janitor interval.
type Config struct {
	Backend string
	TTL     time.Duration
	Redis   RedisConfig
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.TTL / 4), nil
	case "redis":
		rc, err := NewRedisCache(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}
