// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upload

import (
	"context"

	"github.com/ManuGH/segrelay/internal/catalog"
)

// DefaultMaxRetry is the transfer failure cap per segment.
const DefaultMaxRetry = 5

// Selector picks the next segment to upload: the oldest finalized segment with
// a work unit that is PENDING, UPLOADING or FAILED under the retry cap.
type Selector struct {
	Store    catalog.Store
	MaxRetry int
}

// Next returns nil when nothing is eligible.
func (s Selector) Next(ctx context.Context) (*catalog.Segment, error) {
	return s.Store.NextCandidate(ctx, s.maxRetry())
}

func (s Selector) maxRetry() int {
	if s.MaxRetry <= 0 {
		return DefaultMaxRetry
	}
	return s.MaxRetry
}
