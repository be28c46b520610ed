// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process journal. It is used when no persistent backend is
// configured but the ops API should still list recordings, and in tests.
type Memory struct {
	mu         sync.Mutex
	nextID     int64
	recordings map[int64]*Recording
	files      map[int64]map[string]*File
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{
		recordings: make(map[int64]*Recording),
		files:      make(map[int64]map[string]*File),
	}
}

func (m *Memory) StartRecording(_ context.Context, start time.Time, folder, channel string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.recordings[m.nextID] = &Recording{ID: m.nextID, Start: start, Folder: folder, Channel: channel}
	m.files[m.nextID] = make(map[string]*File)
	return m.nextID, nil
}

func (m *Memory) recording(id int64) (*Recording, error) {
	r, ok := m.recordings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return r, nil
}

func (m *Memory) StopRecording(_ context.Context, stop time.Time, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.recording(id)
	if err != nil {
		return err
	}
	r.Stop = &stop
	return nil
}

func (m *Memory) UpdateStreamSnapshot(_ context.Context, id int64, streamID, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.recording(id)
	if err != nil {
		return err
	}
	r.StreamID, r.StreamData = streamID, data
	return nil
}

func (m *Memory) UpdateDelayedStreamSnapshot(_ context.Context, id int64, streamID, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.recording(id)
	if err != nil {
		return err
	}
	r.StreamID10, r.StreamData10 = streamID, data
	return nil
}

func (m *Memory) StartFile(_ context.Context, id int64, name string, seq int64, duration float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.recording(id); err != nil {
		return err
	}
	m.files[id][name] = &File{
		RecordingID: id,
		Name:        name,
		Seq:         seq,
		Duration:    duration,
		Timestamp:   ts,
		Status:      StatusDownloading,
	}
	return nil
}

func (m *Memory) updateFile(id int64, name string, fn func(*File)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.files[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("file %s not started in recording %d", name, id)
	}
	fn(f)
	return nil
}

func (m *Memory) UpdateFileExpectedSize(_ context.Context, id int64, name string, size int64) error {
	return m.updateFile(id, name, func(f *File) { f.ExpectedSize = size })
}

func (m *Memory) UpdateFileDownloadedSize(_ context.Context, id int64, name string, size int64) error {
	return m.updateFile(id, name, func(f *File) { f.DownloadedSize = size })
}

func (m *Memory) UpdateFileStatus(_ context.Context, id int64, name string, status Status) error {
	return m.updateFile(id, name, func(f *File) { f.Status = status })
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) Recording(_ context.Context, id int64) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.recording(id)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

// Files returns the files of a recording ordered by sequence, then name.
func (m *Memory) Files(_ context.Context, id int64) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	out := make([]File, 0, len(files))
	for _, f := range files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
