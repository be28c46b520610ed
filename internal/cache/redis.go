// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultNamespace prefixes every key so several deployments can share one DB.
const DefaultNamespace = "streamkeeper:"

const opTimeout = 2 * time.Second

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// RedisCache shares platform lookups between instances. Redis failures are
// logged and treated as misses; the cache never fails a caller.
type RedisCache struct {
	client    *redis.Client
	namespace string
	logger    zerolog.Logger

	hits, misses, sets atomic.Int64
}

// NewRedisCache connects and pings once so a wrong address fails at startup.
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	c := &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		}),
		namespace: cfg.Namespace,
		logger:    logger,
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Str("namespace", cfg.Namespace).Msg("redis cache connected")
	return c, nil
}

// Ping reports whether the server answers; it backs the cache health check.
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) key(k string) string { return c.namespace + k }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case err == nil:
		c.hits.Add(1)
		return val, true
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
	}
	c.misses.Add(1)
	return nil, false
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}
	c.sets.Add(1)
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// Stats counts this instance's traffic. Size is the number of keys in the namespace.
func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	size := 0
	iter := c.client.Scan(ctx, 0, c.namespace+"*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Sets: c.sets.Load(), Size: size}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
