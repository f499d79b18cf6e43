// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retention removes segment files that were uploaded long enough ago.
package retention

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/fsutil"
	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/metrics"
)

// Sweeper deletes COMPLETED segments recorded more than MaxAge ago, file and
// catalog entry both. Segments in any other state are never touched.
type Sweeper struct {
	store    catalog.Store
	maxAge   time.Duration
	interval time.Duration
	root     string
	now      func() time.Time
	logger   zerolog.Logger
}

// New returns a sweeper. maxAge <= 0 disables sweeping.
func New(store catalog.Store, maxAge, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		logger:   log.WithComponent("retention"),
	}
}

// WithRoot confines deletions to files under root. Segments whose path
// resolves elsewhere are skipped and kept in the catalog.
func (s *Sweeper) WithRoot(root string) *Sweeper {
	s.root = root
	return s
}

// Enabled reports whether a max age is configured.
func (s *Sweeper) Enabled() bool { return s.maxAge > 0 }

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str(log.FieldEvent, "retention.sweep_failed").Msg("retention sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns the number of segments removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.maxAge)
	segs, err := s.store.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, seg := range segs {
		if ctx.Err() != nil {
			break
		}
		if seg.UploadState != catalog.StateCompleted {
			continue
		}
		path := seg.Path
		if s.root != "" {
			confined, err := fsutil.ConfinePath(s.root, seg.Path)
			if err != nil {
				s.logger.Warn().Err(err).Str(log.FieldPath, seg.Path).Msg("segment outside output dir, skipping")
				continue
			}
			path = confined
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str(log.FieldPath, seg.Path).Msg("failed to remove segment file")
			continue
		}
		if err := s.store.Delete(ctx, seg.Token); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		metrics.AddSegmentsPruned(removed)
		s.logger.Info().
			Int("removed", removed).
			Time("cutoff", cutoff).
			Str(log.FieldEvent, "retention.swept").
			Msg("removed uploaded segments")
	}
	return removed, nil
}
