// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/log"
)

var (
	ErrWorkInProgress = errors.New("recorder: a work unit is already in progress")
	ErrNoWork         = errors.New("recorder: no work unit in progress")
)

// StartWork creates a work unit. Segments begun while it is ACTIVE belong to it.
func (s *Session) StartWork(ctx context.Context, label WorkLabel, process string) (*catalog.Work, error) {
	if strings.TrimSpace(label.Model) == "" || strings.TrimSpace(label.Serial) == "" {
		return nil, ErrInvalidLabel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkInProgress, s.work.ID)
	}

	w := &catalog.Work{
		ID:        uuid.NewString(),
		Model:     label.Model,
		Serial:    label.Serial,
		Process:   process,
		State:     catalog.WorkActive,
		StartedAt: s.now(),
	}
	if err := s.store.InsertWork(ctx, w); err != nil {
		return nil, fmt.Errorf("insert work: %w", err)
	}
	stored, err := s.store.GetWork(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	s.work = stored
	s.logger.Info().
		Str(log.FieldWorkID, w.ID).
		Str("model", w.Model).
		Str("serial", w.Serial).
		Str("process", w.Process).
		Str(log.FieldEvent, "work.started").
		Msg("work unit started")
	return stored, nil
}

// Pause stops attaching new segments to the current work.
func (s *Session) Pause(ctx context.Context) error {
	return s.setWorkState(ctx, catalog.WorkPaused)
}

// Resume attaches new segments to the current work again.
func (s *Session) Resume(ctx context.Context) error {
	return s.setWorkState(ctx, catalog.WorkActive)
}

// End closes the current work unit.
func (s *Session) End(ctx context.Context) error {
	return s.setWorkState(ctx, catalog.WorkEnded)
}

func (s *Session) setWorkState(ctx context.Context, to catalog.WorkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.work == nil {
		return ErrNoWork
	}
	from := s.work.State
	updated, err := s.store.UpdateWork(ctx, s.work.ID, catalog.SetWorkState(to, s.now()))
	if err != nil {
		return err
	}
	if to == catalog.WorkEnded {
		s.work = nil
	} else {
		s.work = updated
	}
	s.logger.Info().
		Str(log.FieldWorkID, updated.ID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str(log.FieldEvent, "work.state_changed").
		Msg("work unit state changed")
	return nil
}

// Work returns a copy of the work in progress, or nil.
func (s *Session) Work() *catalog.Work {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workLocked()
}

func (s *Session) workLocked() *catalog.Work {
	if s.work == nil {
		return nil
	}
	w := *s.work
	return &w
}

// Restore picks up the most recent work that was not ended, e.g. after a restart.
func (s *Session) Restore(ctx context.Context) (*catalog.Work, error) {
	works, err := s.store.ListWorks(ctx)
	if err != nil {
		return nil, err
	}
	var latest *catalog.Work
	for _, w := range works {
		if w.State == catalog.WorkEnded {
			continue
		}
		if latest == nil || w.StartedAt.After(latest.StartedAt) {
			latest = w
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.work = latest
	if latest != nil {
		s.logger.Info().Str(log.FieldWorkID, latest.ID).Str(log.FieldEvent, "work.restored").Msg("resumed work unit from catalog")
	}
	return s.workLocked(), nil
}
