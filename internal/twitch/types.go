// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package twitch

import (
	"encoding/json"
	"time"
)

// AccessToken is an ephemeral playback token. It is never persisted.
type AccessToken struct {
	Value     string `json:"value"`
	Signature string `json:"signature"`
}

// Stream is a live stream as reported by the Helix streams endpoint.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	Language     string    `json:"language"`
	ThumbnailURL string    `json:"thumbnail_url"`

	// Raw is the untouched API object, used for metadata snapshots.
	Raw json.RawMessage `json:"-"`
}

// User is a platform account.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Video is a persisted broadcast (VOD).
type Video struct {
	ID          string    `json:"id"`
	StreamID    string    `json:"stream_id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Type        string    `json:"type"`
	Duration    string    `json:"duration"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}
