// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingStore is returned when components are built without a catalog.
	ErrMissingStore = errors.New("catalog store is required")

	// ErrMissingHolder is returned when an app is created without configuration.
	ErrMissingHolder = errors.New("config holder is required")
)
