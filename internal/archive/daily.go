// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyLog appends timestamped lines to root/kind/YYYY/MM/YYYYMMDD.txt and
// switches files when the UTC day changes.
type DailyLog struct {
	layout Layout
	kind   Kind
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyLog creates a DailyLog; now defaults to time.Now.
func NewDailyLog(layout Layout, kind Kind, now func() time.Time) *DailyLog {
	if now == nil {
		now = time.Now
	}
	return &DailyLog{layout: layout, kind: kind, now: now}
}

// WriteLine writes "<RFC3339Nano> line".
func (d *DailyLog) WriteLine(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.now().UTC()
	if day := t.Format("20060102"); day != d.day || d.file == nil {
		if err := d.rotate(t, day); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(d.file, "%s %s\n", t.Format(time.RFC3339Nano), line)
	return err
}

func (d *DailyLog) rotate(t time.Time, day string) error {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	path := d.layout.DailyFile(d.kind, t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { // #nosec G301
		return fmt.Errorf("create daily log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G302 G304
	if err != nil {
		return err
	}
	d.file = f
	d.day = day
	return nil
}

// Close closes the current file.
func (d *DailyLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
