// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LineWriter serializes writes to a shared file so concurrent downloads never
// interleave partial lines.
type LineWriter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// OpenLineWriter opens path in append mode.
func OpenLineWriter(path string) (*LineWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G302 G304
	if err != nil {
		return nil, err
	}
	return &LineWriter{w: f}, nil
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Printf writes one formatted line.
func (lw *LineWriter) Printf(format string, args ...any) error {
	_, err := fmt.Fprintf(lw, format+"\n", args...)
	return err
}

func (lw *LineWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Close()
}

// Session is an opened recording folder with its three log files.
type Session struct {
	ID  string
	Dir string

	// Index receives "seq,duration,timestamp" lines.
	Index *LineWriter
	// Transfer receives one line per segment attempt.
	Transfer *LineWriter
	// Playlist receives raw playlist bodies.
	Playlist *LineWriter
}

// OpenSession creates root/kind/YYYY/MM/id and opens its log files.
func (l Layout) OpenSession(kind Kind, t time.Time, id string) (*Session, error) {
	dir := l.Dir(kind, t, id)
	if err := os.MkdirAll(dir, 0o755); err != nil { // #nosec G301
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Session{ID: id, Dir: dir}

	var err error
	if s.Index, err = OpenLineWriter(s.Path(".txt")); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if s.Transfer, err = OpenLineWriter(s.Path(".log")); err != nil {
		_ = s.Index.Close()
		return nil, fmt.Errorf("open transfer log: %w", err)
	}
	if s.Playlist, err = OpenLineWriter(s.Path("-playlist.log")); err != nil {
		_ = s.Index.Close()
		_ = s.Transfer.Close()
		return nil, fmt.Errorf("open playlist log: %w", err)
	}
	return s, nil
}

// Path returns the sibling file dir/<id><suffix>.
func (s *Session) Path(suffix string) string {
	return filepath.Join(s.Dir, s.ID+suffix)
}

// File returns dir/name.
func (s *Session) File(name string) string {
	return filepath.Join(s.Dir, name)
}

// StreamSnapshotPath is the first stream metadata snapshot.
func (s *Session) StreamSnapshotPath() string { return s.Path("-stream.json") }

// DelayedSnapshotPath is the snapshot taken ten minutes into the session.
func (s *Session) DelayedSnapshotPath() string { return s.Path("-stream-10.json") }

// Close closes every log file.
func (s *Session) Close() error {
	return errors.Join(s.Index.Close(), s.Transfer.Close(), s.Playlist.Close())
}
