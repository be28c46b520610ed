// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	sessionIDKey
	runIDKey
)

// correlation maps each context key to the log field it is written under.
var correlation = []struct {
	key   ctxKey
	field string
}{
	{requestIDKey, FieldRequestID},
	{sessionIDKey, FieldSessionID},
	{runIDKey, FieldRunID},
}

// ContextWithRequestID tags ctx with an ops API request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithSessionID tags ctx with a live recording session ID.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return withValue(ctx, sessionIDKey, id)
}

// ContextWithRunID tags ctx with a VOD recorder run.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return withValue(ctx, runIDKey, id)
}

func withValue(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestIDKey) }
func SessionIDFromContext(ctx context.Context) string { return stringValue(ctx, sessionIDKey) }
func RunIDFromContext(ctx context.Context) string     { return stringValue(ctx, runIDKey) }

// WithContext adds the correlation IDs carried by ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	var b *zerolog.Context
	for _, c := range correlation {
		v := stringValue(ctx, c.key)
		if v == "" {
			continue
		}
		if b == nil {
			lc := logger.With()
			b = &lc
		}
		*b = b.Str(c.field, v)
	}
	if b == nil {
		return logger
	}
	return b.Logger()
}

// WithComponentFromContext is the logger for component, correlated with ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := WithContext(ctx, *FromContext(ctx))
	return l.With().Str(FieldComponent, component).Logger()
}

// FromContext returns the logger attached to ctx, or the base logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	b := Base()
	return &b
}
