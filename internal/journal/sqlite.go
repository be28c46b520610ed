// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/streamkeeper/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

// SQLite stores the journal in an embedded database file.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens (and migrates) the journal database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLite{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: sqlite migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS recording (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start TEXT NOT NULL,
		stop TEXT,
		path TEXT NOT NULL,
		username TEXT NOT NULL,
		streamid TEXT NOT NULL DEFAULT '',
		streamdata TEXT NOT NULL DEFAULT '',
		streamid10 TEXT NOT NULL DEFAULT '',
		streamdata10 TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS recording_username_idx ON recording (username);
	CREATE INDEX IF NOT EXISTS recording_streamid_idx ON recording (streamid);

	CREATE TABLE IF NOT EXISTS file (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recording_id INTEGER NOT NULL REFERENCES recording(id),
		name TEXT NOT NULL,
		seq INTEGER NOT NULL,
		duration REAL NOT NULL,
		datetime TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		downloaded INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('downloading', 'error', 'done')),
		UNIQUE (recording_id, name)
	);
	CREATE INDEX IF NOT EXISTS file_seq_idx ON file (seq);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLite) StartRecording(ctx context.Context, start time.Time, folder, channel string) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO recording (start, path, username) VALUES (?, ?, ?)`,
		formatTime(start), folder, channel)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLite) StopRecording(ctx context.Context, stop time.Time, id int64) error {
	return s.exec(ctx, `UPDATE recording SET stop = ? WHERE id = ?`, formatTime(stop), id)
}

func (s *SQLite) UpdateStreamSnapshot(ctx context.Context, id int64, streamID, data string) error {
	return s.exec(ctx, `UPDATE recording SET streamid = ?, streamdata = ? WHERE id = ?`, streamID, data, id)
}

func (s *SQLite) UpdateDelayedStreamSnapshot(ctx context.Context, id int64, streamID, data string) error {
	return s.exec(ctx, `UPDATE recording SET streamid10 = ?, streamdata10 = ? WHERE id = ?`, streamID, data, id)
}

func (s *SQLite) StartFile(ctx context.Context, id int64, name string, seq int64, duration float64, ts time.Time) error {
	query := `
	INSERT INTO file (recording_id, name, seq, duration, datetime, size, downloaded, status)
	VALUES (?, ?, ?, ?, ?, 0, 0, ?)
	ON CONFLICT(recording_id, name) DO UPDATE SET
		seq = excluded.seq,
		duration = excluded.duration,
		datetime = excluded.datetime,
		status = excluded.status
	`
	_, err := s.DB.ExecContext(ctx, query, id, name, seq, duration, formatTime(ts), string(StatusDownloading))
	return err
}

func (s *SQLite) UpdateFileExpectedSize(ctx context.Context, id int64, name string, size int64) error {
	return s.exec(ctx, `UPDATE file SET size = ? WHERE recording_id = ? AND name = ?`, size, id, name)
}

func (s *SQLite) UpdateFileDownloadedSize(ctx context.Context, id int64, name string, size int64) error {
	return s.exec(ctx, `UPDATE file SET downloaded = ? WHERE recording_id = ? AND name = ?`, size, id, name)
}

func (s *SQLite) UpdateFileStatus(ctx context.Context, id int64, name string, status Status) error {
	return s.exec(ctx, `UPDATE file SET status = ? WHERE recording_id = ? AND name = ?`, string(status), id, name)
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.DB.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLite) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *SQLite) Close() error { return s.DB.Close() }

func (s *SQLite) Recording(ctx context.Context, id int64) (*Recording, error) {
	var (
		r     Recording
		start string
		stop  sql.NullString
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, start, stop, path, username, streamid, streamdata, streamid10, streamdata10 FROM recording WHERE id = ?`, id,
	).Scan(&r.ID, &start, &stop, &r.Folder, &r.Channel, &r.StreamID, &r.StreamData, &r.StreamID10, &r.StreamData10)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.Start = parseTime(start)
	if stop.Valid && stop.String != "" {
		t := parseTime(stop.String)
		r.Stop = &t
	}
	return &r, nil
}

func (s *SQLite) Files(ctx context.Context, id int64) ([]File, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, seq, duration, datetime, size, downloaded, status FROM file WHERE recording_id = ? ORDER BY seq, name`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []File
	for rows.Next() {
		f := File{RecordingID: id}
		var ts, status string
		if err := rows.Scan(&f.Name, &f.Seq, &f.Duration, &ts, &f.ExpectedSize, &f.DownloadedSize, &status); err != nil {
			return nil, err
		}
		f.Timestamp = parseTime(ts)
		f.Status = Status(status)
		out = append(out, f)
	}
	return out, rows.Err()
}
