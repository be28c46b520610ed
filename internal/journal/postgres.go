// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres stores the journal in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres applies pending migrations and opens a connection pool.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := migratePostgres(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func migratePostgres(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal: open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("journal: init migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("journal: apply migrations: %w", err)
	}
	return nil
}

func (p *Postgres) StartRecording(ctx context.Context, start time.Time, folder, channel string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO recording (start, path, username) VALUES ($1, $2, $3) RETURNING id`,
		start, folder, channel).Scan(&id)
	return id, err
}

func (p *Postgres) StopRecording(ctx context.Context, stop time.Time, id int64) error {
	return p.exec(ctx, `UPDATE recording SET stop = $1 WHERE id = $2`, stop, id)
}

func (p *Postgres) UpdateStreamSnapshot(ctx context.Context, id int64, streamID, data string) error {
	return p.exec(ctx, `UPDATE recording SET streamid = $1, streamdata = $2 WHERE id = $3`, streamID, data, id)
}

func (p *Postgres) UpdateDelayedStreamSnapshot(ctx context.Context, id int64, streamID, data string) error {
	return p.exec(ctx, `UPDATE recording SET streamid10 = $1, streamdata10 = $2 WHERE id = $3`, streamID, data, id)
}

func (p *Postgres) StartFile(ctx context.Context, id int64, name string, seq int64, duration float64, ts time.Time) error {
	var datetime any
	if !ts.IsZero() {
		datetime = ts
	}
	return p.exec(ctx, `
		INSERT INTO file (recording_id, name, seq, duration, datetime, size, downloaded, status)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 'downloading')
		ON CONFLICT (recording_id, name) DO UPDATE SET
			seq = EXCLUDED.seq,
			duration = EXCLUDED.duration,
			datetime = EXCLUDED.datetime,
			status = EXCLUDED.status`,
		id, name, seq, duration, datetime)
}

func (p *Postgres) UpdateFileExpectedSize(ctx context.Context, id int64, name string, size int64) error {
	return p.exec(ctx, `UPDATE file SET size = $1 WHERE recording_id = $2 AND name = $3`, size, id, name)
}

func (p *Postgres) UpdateFileDownloadedSize(ctx context.Context, id int64, name string, size int64) error {
	return p.exec(ctx, `UPDATE file SET downloaded = $1 WHERE recording_id = $2 AND name = $3`, size, id, name)
}

func (p *Postgres) UpdateFileStatus(ctx context.Context, id int64, name string, status Status) error {
	return p.exec(ctx, `UPDATE file SET status = $1::file_status WHERE recording_id = $2 AND name = $3`, string(status), id, name)
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	_, err := p.pool.Exec(ctx, query, args...)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Recording(ctx context.Context, id int64) (*Recording, error) {
	var r Recording
	err := p.pool.QueryRow(ctx,
		`SELECT id, start, stop, path, username, streamid, streamdata, streamid10, streamdata10 FROM recording WHERE id = $1`, id,
	).Scan(&r.ID, &r.Start, &r.Stop, &r.Folder, &r.Channel, &r.StreamID, &r.StreamData, &r.StreamID10, &r.StreamData10)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) Files(ctx context.Context, id int64) ([]File, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT name, seq, duration, datetime, size, downloaded, status::text FROM file WHERE recording_id = $1 ORDER BY seq, name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f := File{RecordingID: id}
		var ts *time.Time
		var status string
		if err := rows.Scan(&f.Name, &f.Seq, &f.Duration, &ts, &f.ExpectedSize, &f.DownloadedSize, &status); err != nil {
			return nil, err
		}
		if ts != nil {
			f.Timestamp = *ts
		}
		f.Status = Status(status)
		out = append(out, f)
	}
	return out, rows.Err()
}
