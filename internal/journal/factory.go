// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"fmt"
)

// Backend names.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string
	SQLitePath    string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string
}

// Open builds the configured backend. The "none" backend returns a nil
// handle, which turns every journal call into a no-op.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	var (
		j   Journal
		err error
	)
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		j = NewMemory()
	case BackendSQLite:
		j, err = NewSQLite(cfg.SQLitePath)
	case BackendPostgres:
		j, err = NewPostgres(ctx, cfg.PostgresDSN)
	case BackendMongo:
		db := cfg.MongoDatabase
		if db == "" {
			db = "streamkeeper"
		}
		j, err = NewMongo(ctx, cfg.MongoURI, db)
	default:
		return nil, fmt.Errorf("journal: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewHandle(cfg.Backend, j), nil
}
