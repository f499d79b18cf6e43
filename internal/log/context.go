// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	runIDKey        ctxKey = "run_id"
	segmentTokenKey ctxKey = "segment_token"
	workIDKey       ctxKey = "work_id"
	requestIDKey    ctxKey = "request_id"
)

// ContextWithRunID stores the identifier of one uploader/recorder run.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// ContextWithSegmentToken stores the segment token in the context.
func ContextWithSegmentToken(ctx context.Context, token string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, segmentTokenKey, token)
}

// ContextWithWorkID stores the work unit identifier in the context.
func ContextWithWorkID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, workIDKey, id)
}

// ContextWithRequestID stores the HTTP request identifier in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// RunIDFromContext extracts the run ID from context if present.
func RunIDFromContext(ctx context.Context) string { return stringFromContext(ctx, runIDKey) }

// SegmentTokenFromContext extracts the segment token from context if present.
func SegmentTokenFromContext(ctx context.Context) string {
	return stringFromContext(ctx, segmentTokenKey)
}

// WorkIDFromContext extracts the work ID from context if present.
func WorkIDFromContext(ctx context.Context) string { return stringFromContext(ctx, workIDKey) }

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string { return stringFromContext(ctx, requestIDKey) }

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if id := RunIDFromContext(ctx); id != "" {
		builder = builder.Str(FieldRunID, id)
		added = true
	}
	if tok := SegmentTokenFromContext(ctx); tok != "" {
		builder = builder.Str(FieldSegmentToken, tok)
		added = true
	}
	if wid := WorkIDFromContext(ctx); wid != "" {
		builder = builder.Str(FieldWorkID, wid)
		added = true
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		builder = builder.Str(FieldRequestID, rid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// FromContext returns a logger from the context, or the base logger if none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
