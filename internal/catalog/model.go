// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog holds segment and work records and the upload state machine
// that governs every write to them.
package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("catalog: not found")
	ErrDuplicate         = errors.New("catalog: duplicate record")
	ErrInvalidTransition = errors.New("catalog: invalid state transition")
	ErrAlreadyFinalized  = errors.New("catalog: segment already finalized")
	ErrOffsetRegression  = errors.New("catalog: acknowledged offset regression")
)

// UploadState is the upload lifecycle state of a segment.
type UploadState string

const (
	StateNone      UploadState = "NONE"
	StatePending   UploadState = "PENDING"
	StateUploading UploadState = "UPLOADING"
	StateFailed    UploadState = "FAILED"
	StateCompleted UploadState = "COMPLETED"
)

func (s UploadState) Valid() bool {
	switch s {
	case StateNone, StatePending, StateUploading, StateFailed, StateCompleted:
		return true
	}
	return false
}

// WorkState is the lifecycle state of a work unit.
type WorkState string

const (
	WorkActive WorkState = "ACTIVE"
	WorkPaused WorkState = "PAUSED"
	WorkEnded  WorkState = "ENDED"
)

// Segment is one finished (or still recording) media file and its upload progress.
type Segment struct {
	Token        string      `json:"token"`
	Path         string      `json:"path"`
	Index        *int        `json:"index,omitempty"`
	RecordedAt   time.Time   `json:"recordedAt"`
	DurationMs   *int64      `json:"durationMs,omitempty"`
	SizeBytes    *int64      `json:"sizeBytes,omitempty"`
	WorkID       string      `json:"workId,omitempty"`
	UploadState  UploadState `json:"uploadState"`
	RemoteHandle string      `json:"remoteHandle,omitempty"`
	BytesAcked   int64       `json:"bytesAcked"`
	RetryCount   int         `json:"retryCount"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// Finalizable reports whether duration and size are both known.
func (s *Segment) Finalizable() bool {
	return s.DurationMs != nil && s.SizeBytes != nil
}

// Eligible reports whether the segment may be returned by NextCandidate.
func (s *Segment) Eligible(maxRetry int) bool {
	if s.WorkID == "" || !s.Finalizable() {
		return false
	}
	switch s.UploadState {
	case StatePending, StateUploading:
		return true
	case StateFailed:
		return s.RetryCount < maxRetry
	}
	return false
}

// Clone returns a deep copy.
func (s *Segment) Clone() *Segment {
	if s == nil {
		return nil
	}
	c := *s
	if s.Index != nil {
		v := *s.Index
		c.Index = &v
	}
	if s.DurationMs != nil {
		v := *s.DurationMs
		c.DurationMs = &v
	}
	if s.SizeBytes != nil {
		v := *s.SizeBytes
		c.SizeBytes = &v
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// Work groups the segments recorded for one model/serial/process.
type Work struct {
	ID        string     `json:"id"`
	Model     string     `json:"model"`
	Serial    string     `json:"serial"`
	Process   string     `json:"process"`
	State     WorkState  `json:"state"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// CanTransition reports whether an upload state change is allowed.
// retryCount is the segment's count before the transition.
func CanTransition(from, to UploadState, retryCount, maxRetry int) bool {
	switch from {
	case StateNone:
		return to == StatePending
	case StatePending:
		return to == StateUploading
	case StateUploading:
		switch to {
		case StateUploading, StatePending, StateFailed, StateCompleted:
			return true
		}
	case StateFailed:
		return to == StateUploading && retryCount < maxRetry
	}
	return false
}

// Mutation changes a segment in place. Stores run it inside one atomic write.
type Mutation func(*Segment) error

func transition(s *Segment, to UploadState, maxRetry int) error {
	if !CanTransition(s.UploadState, to, s.RetryCount, maxRetry) {
		return fmt.Errorf("%w: %s -> %s (retry %d/%d)", ErrInvalidTransition, s.UploadState, to, s.RetryCount, maxRetry)
	}
	s.UploadState = to
	return nil
}

// promote moves a NONE segment to PENDING once it is finalized and owned by a work unit.
func promote(s *Segment) {
	if s.UploadState == StateNone && s.Finalizable() && s.WorkID != "" {
		s.UploadState = StatePending
	}
}

// Finalize records duration and size. Allowed once, while NONE or PENDING.
func Finalize(durationMs, sizeBytes int64) Mutation {
	return func(s *Segment) error {
		if s.UploadState != StateNone && s.UploadState != StatePending {
			return fmt.Errorf("%w: finalize in state %s", ErrInvalidTransition, s.UploadState)
		}
		if s.DurationMs != nil || s.SizeBytes != nil {
			return ErrAlreadyFinalized
		}
		s.DurationMs = &durationMs
		s.SizeBytes = &sizeBytes
		promote(s)
		return nil
	}
}

// AssignWork attaches the segment to a work unit with the given index.
func AssignWork(workID string, index int) Mutation {
	return func(s *Segment) error {
		if workID == "" {
			return fmt.Errorf("catalog: empty work id")
		}
		if s.UploadState != StateNone {
			return fmt.Errorf("%w: assign work in state %s", ErrInvalidTransition, s.UploadState)
		}
		s.WorkID = workID
		s.Index = &index
		promote(s)
		return nil
	}
}

// BeginUpload marks the segment UPLOADING. From UPLOADING it is a no-op
// transition used after a crash left the segment mid-attempt.
func BeginUpload(maxRetry int) Mutation {
	return func(s *Segment) error {
		return transition(s, StateUploading, maxRetry)
	}
}

// RecordProgress persists the remote handle and acknowledged offset.
// A new handle starts a fresh offset baseline; for the same handle the offset
// never moves backwards.
func RecordProgress(handle string, offset int64) Mutation {
	return func(s *Segment) error {
		if s.UploadState != StateUploading {
			return fmt.Errorf("%w: progress in state %s", ErrInvalidTransition, s.UploadState)
		}
		if offset < 0 {
			return fmt.Errorf("catalog: negative offset %d", offset)
		}
		if handle != s.RemoteHandle {
			s.RemoteHandle = handle
			s.BytesAcked = offset
			return nil
		}
		if offset < s.BytesAcked {
			return fmt.Errorf("%w: %d < %d", ErrOffsetRegression, offset, s.BytesAcked)
		}
		s.BytesAcked = offset
		return nil
	}
}

// Complete marks a successful transfer.
func Complete(at time.Time) Mutation {
	return func(s *Segment) error {
		if err := transition(s, StateCompleted, 0); err != nil {
			return err
		}
		if s.SizeBytes != nil {
			s.BytesAcked = *s.SizeBytes
		}
		at = at.UTC()
		s.CompletedAt = &at
		return nil
	}
}

// Fail records one transfer failure.
func Fail() Mutation {
	return func(s *Segment) error {
		if err := transition(s, StateFailed, 0); err != nil {
			return err
		}
		s.RetryCount++
		return nil
	}
}

// FailPermanently marks a data-integrity fault: FAILED with the retry count
// pinned at the cap so the selector never returns the segment again.
// Allowed from any non-terminal state.
func FailPermanently(maxRetry int) Mutation {
	return func(s *Segment) error {
		if s.UploadState == StateCompleted {
			return fmt.Errorf("%w: fail completed segment", ErrInvalidTransition)
		}
		s.UploadState = StateFailed
		if s.RetryCount < maxRetry {
			s.RetryCount = maxRetry
		}
		return nil
	}
}

// Release returns an interrupted attempt to PENDING, keeping handle and offset.
func Release() Mutation {
	return func(s *Segment) error {
		return transition(s, StatePending, 0)
	}
}

// ResetRetries re-arms a FAILED segment for manual retry.
func ResetRetries() Mutation {
	return func(s *Segment) error {
		if s.UploadState != StateFailed {
			return fmt.Errorf("%w: reset retries in state %s", ErrInvalidTransition, s.UploadState)
		}
		s.RetryCount = 0
		return nil
	}
}

// WorkMutation changes a work record in place.
type WorkMutation func(*Work) error

// SetWorkState moves a work unit between ACTIVE and PAUSED, or ends it.
// ENDED is terminal.
func SetWorkState(to WorkState, at time.Time) WorkMutation {
	return func(w *Work) error {
		if w.State == WorkEnded {
			return fmt.Errorf("%w: work %s already ended", ErrInvalidTransition, w.ID)
		}
		switch to {
		case WorkActive, WorkPaused:
		case WorkEnded:
			t := at.UTC()
			w.EndedAt = &t
		default:
			return fmt.Errorf("%w: unknown work state %q", ErrInvalidTransition, to)
		}
		w.State = to
		return nil
	}
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	WorkID string
	State  UploadState
	Limit  int
}

func (f ListFilter) match(s *Segment) bool {
	if f.WorkID != "" && s.WorkID != f.WorkID {
		return false
	}
	if f.State != "" && s.UploadState != f.State {
		return false
	}
	return true
}
