// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Segment attributes
	SegmentTokenKey = "segment.token"
	SegmentIndexKey = "segment.index"
	SegmentSizeKey  = "segment.size_bytes"
	WorkIDKey       = "work.id"

	// Upload attributes
	UploadOffsetKey  = "upload.offset"
	UploadChunkKey   = "upload.chunk_bytes"
	UploadOutcomeKey = "upload.outcome"
	UploadResumedKey = "upload.resumed"
	UploadTriggerKey = "upload.trigger"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SegmentAttributes creates segment span attributes. Index is omitted for
// segments not yet assigned to a work.
func SegmentAttributes(token, workID string, index *int, size int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(SegmentTokenKey, token),
		attribute.Int64(SegmentSizeKey, size),
	}
	if workID != "" {
		attrs = append(attrs, attribute.String(WorkIDKey, workID))
	}
	if index != nil {
		attrs = append(attrs, attribute.Int(SegmentIndexKey, *index))
	}
	return attrs
}

// ChunkAttributes describes one PATCH request.
func ChunkAttributes(offset int64, n int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(UploadOffsetKey, offset),
		attribute.Int(UploadChunkKey, n),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
