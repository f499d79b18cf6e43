// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSegmentToken = "segment_token"
	FieldWorkID       = "work_id"
	FieldRunID        = "run_id"
	FieldRequestID    = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHandle    = "handle"

	// Media fields
	FieldTrack   = "track"
	FieldEncoder = "encoder"
	FieldDevice  = "device"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transfer fields
	FieldOffset     = "offset"
	FieldTotal      = "total"
	FieldRetryCount = "retry_count"

	// Path / URL fields
	FieldPath     = "path"
	FieldEndpoint = "endpoint"
)
