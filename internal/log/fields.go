// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID   = "session_id"
	FieldRunID       = "run_id"
	FieldRequestID   = "request_id"
	FieldRecordingID = "recording_id"
	FieldChannel     = "channel"
	FieldStreamID    = "stream_id"
	FieldVodID       = "vod_id"
	FieldUserID      = "user_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldSource    = "source"

	// Segment fields
	FieldSegment  = "segment"
	FieldSequence = "seq"
	FieldExpected = "expected"
	FieldWritten  = "written"
	FieldInFlight = "in_flight"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
	FieldHost = "host"
)
