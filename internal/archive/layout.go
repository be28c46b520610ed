// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package archive owns the on-disk layout: session folders, their log files,
// JSON snapshots, daily event/chat logs and the optional object-store mirror.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Kind is the top-level archive area.
type Kind string

const (
	KindVideo  Kind = "video"
	KindVod    Kind = "vod"
	KindStream Kind = "stream"
	KindEvents Kind = "events"
	KindChat   Kind = "chat"
)

// SessionIDLayout formats live session ids from their UTC start time.
const SessionIDLayout = "20060102T150405Z"

// SessionID returns the session id for a session started at t.
func SessionID(t time.Time) string {
	return t.UTC().Format(SessionIDLayout)
}

// Layout resolves archive paths under Root.
type Layout struct {
	Root string
}

// Dir returns root/kind/YYYY/MM/name for the month of t.
func (l Layout) Dir(kind Kind, t time.Time, name string) string {
	t = t.UTC()
	return filepath.Join(l.Root, string(kind), fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), name)
}

// DailyFile returns root/kind/YYYY/MM/YYYYMMDD.txt.
func (l Layout) DailyFile(kind Kind, t time.Time) string {
	t = t.UTC()
	return l.Dir(kind, t, t.Format("20060102")+".txt")
}

// SegmentName formats a live segment filename with zero padding.
func SegmentName(seq int64, padding int) string {
	return fmt.Sprintf("%0*d.ts", padding, seq)
}

// PadName left-pads name with '0' to width. Longer names are returned unchanged.
func PadName(name string, width int) string {
	if len(name) >= width {
		return name
	}
	buf := make([]byte, width-len(name), width)
	for i := range buf {
		buf[i] = '0'
	}
	return string(append(buf, name...))
}

// Exists reports whether path is an existing regular file.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
