// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package twitch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus marks a non-2xx answer from the platform or CDN.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrNoToken is returned when the token endpoint answered without a usable token.
	ErrNoToken = errors.New("no playback access token in response")
	// ErrUserNotFound is returned when a channel login resolves to no user.
	ErrUserNotFound = errors.New("user not found")
	// ErrMissingCredentials is returned for Helix calls without client credentials.
	ErrMissingCredentials = errors.New("platform client credentials not configured")
)

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %d", e.Endpoint, ErrUnexpectedStatus.Error(), e.Status)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
