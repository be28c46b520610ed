// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls decodes master and media playlists and picks the variant to record.
package hls

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

var (
	// ErrEmptyPlaylist is returned for an empty playlist body.
	ErrEmptyPlaylist = errors.New("empty playlist")
	// ErrNotPlaylist is returned when the body does not start with #EXTM3U.
	ErrNotPlaylist = errors.New("body is not an m3u8 playlist")
	// ErrUnexpectedType is returned when a master was expected and a media list arrived, or vice versa.
	ErrUnexpectedType = errors.New("unexpected playlist type")
	// ErrNoVariant is returned for a master playlist without variants.
	ErrNoVariant = errors.New("master playlist has no variants")
)

const header = "#EXTM3U"

// Variant is one rendition of a master playlist. Width and Height are zero
// when the variant declares no resolution.
type Variant struct {
	URI       string
	Name      string
	Bandwidth int64
	Width     int
	Height    int
}

// Segment is one media segment entry.
type Segment struct {
	Sequence    int64
	URI         string
	Duration    float64
	ProgramTime time.Time
	Muted       bool
}

// MediaPlaylist is a decoded media playlist. Ended reports #EXT-X-ENDLIST.
type MediaPlaylist struct {
	Sequence int64
	Segments []Segment
	Ended    bool
}

// IsPlaylist reports whether body carries the m3u8 header.
func IsPlaylist(body []byte) bool {
	return bytes.HasPrefix(trimLead(body), []byte(header))
}

// trimLead drops a byte-order mark and whitespace ahead of the header.
func trimLead(body []byte) []byte {
	return bytes.TrimLeft(body, "\uFEFF \t\r\n")
}

// checkBody returns body with leading noise removed so the decoder sees the header first.
func checkBody(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyPlaylist
	}
	if !IsPlaylist(body) {
		return nil, ErrNotPlaylist
	}
	return trimLead(body), nil
}

// ParseMaster decodes a master playlist.
func ParseMaster(body []byte) ([]Variant, error) {
	body, err := checkBody(body)
	if err != nil {
		return nil, err
	}
	p, lt, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, fmt.Errorf("decode master playlist: %w", err)
	}
	if lt != m3u8.MASTER {
		return nil, ErrUnexpectedType
	}
	master := p.(*m3u8.MasterPlaylist)

	out := make([]Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		w, h := parseResolution(v.Resolution)
		out = append(out, Variant{
			URI:       v.URI,
			Name:      v.Video,
			Bandwidth: int64(v.Bandwidth),
			Width:     w,
			Height:    h,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoVariant
	}
	return out, nil
}

// ParseMedia decodes a media playlist. A list with a header but no segments
// decodes to a playlist with zero segments.
func ParseMedia(body []byte) (*MediaPlaylist, error) {
	body, err := checkBody(body)
	if err != nil {
		return nil, err
	}
	p, lt, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		// The decoder cannot type a list that carries no segment entries yet.
		if !bytes.Contains(body, []byte("#EXTINF")) {
			return &MediaPlaylist{Ended: bytes.Contains(body, []byte("#EXT-X-ENDLIST"))}, nil
		}
		return nil, fmt.Errorf("decode media playlist: %w", err)
	}
	if lt != m3u8.MEDIA {
		return nil, ErrUnexpectedType
	}
	media := p.(*m3u8.MediaPlaylist)

	out := &MediaPlaylist{
		Sequence: int64(media.SeqNo),
		Ended:    media.Closed,
	}
	for _, s := range media.Segments {
		if s == nil {
			break
		}
		out.Segments = append(out.Segments, Segment{
			Sequence:    int64(s.SeqId),
			URI:         s.URI,
			Duration:    s.Duration,
			ProgramTime: s.ProgramDateTime,
			Muted:       strings.HasSuffix(s.URI, "-muted.ts") || strings.HasSuffix(s.URI, "-unmuted.ts"),
		})
	}
	return out, nil
}

func parseResolution(res string) (int, int) {
	w, h, ok := strings.Cut(strings.TrimSpace(res), "x")
	if !ok {
		return 0, 0
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0
	}
	return width, height
}

// SelectVariant picks the widest variant, breaking ties by bandwidth. When no
// variant declares a resolution the highest bandwidth wins.
func SelectVariant(variants []Variant) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}
	best := -1
	for i, v := range variants {
		if v.Width <= 0 {
			continue
		}
		if best < 0 || v.Width > variants[best].Width ||
			(v.Width == variants[best].Width && v.Bandwidth > variants[best].Bandwidth) {
			best = i
		}
	}
	if best >= 0 {
		return variants[best], true
	}
	best = 0
	for i, v := range variants {
		if v.Bandwidth > variants[best].Bandwidth {
			best = i
		}
	}
	return variants[best], true
}

// ResolveURI resolves ref against the playlist URL base.
func ResolveURI(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// BaseURL returns playlistURL without its last path element and query, ending in "/".
func BaseURL(playlistURL string) string {
	u, err := url.Parse(playlistURL)
	if err != nil {
		if i := strings.LastIndex(playlistURL, "/"); i >= 0 {
			return playlistURL[:i+1]
		}
		return playlistURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	if i := strings.LastIndex(u.Path, "/"); i >= 0 {
		u.Path = u.Path[:i+1]
	}
	return u.String()
}
