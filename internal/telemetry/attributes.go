// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	ChannelKey  = "archive.channel"
	StreamIDKey = "archive.stream_id"
	VodIDKey    = "archive.vod_id"
	SourceKey   = "archive.source"
	AttemptKey  = "archive.attempt"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ResolveAttributes describes a playlist resolution span.
func ResolveAttributes(channel, source string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ChannelKey, channel),
		attribute.String(SourceKey, source),
		attribute.Int(AttemptKey, attempt),
	}
}
