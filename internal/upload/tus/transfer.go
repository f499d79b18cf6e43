// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ManuGH/segrelay/internal/log"
)

// Outcome is the result of one Upload call: Completed, RetryableFailure or
// Stopped.
type Outcome interface {
	outcome()
}

// Completed means the server acknowledged every byte.
type Completed struct {
	Handle string
	At     time.Time
}

// RetryableFailure means the attempt failed and may be retried later.
type RetryableFailure struct {
	Reason string
	Err    error
	// Local marks faults of the local file or store rather than the server.
	Local bool
}

// Stopped means the caller cancelled between chunks. Handle and Offset are
// what the server had acknowledged.
type Stopped struct {
	Handle string
	Offset int64
}

func (Completed) outcome()        {}
func (RetryableFailure) outcome() {}
func (Stopped) outcome()          {}

func (f RetryableFailure) Error() string {
	if f.Err != nil {
		return f.Reason + ": " + f.Err.Error()
	}
	return f.Reason
}

// Unwrap exposes the underlying error to errors.Is.
func (f RetryableFailure) Unwrap() error { return f.Err }

// IsLocal reports whether err is a RetryableFailure caused locally. Such
// failures say nothing about the health of the endpoint.
func IsLocal(err error) bool {
	var f RetryableFailure
	return errors.As(err, &f) && f.Local
}

// Job describes one file to transfer.
type Job struct {
	Path string
	// Handle and Acked are the persisted upload location and offset.
	Handle string
	Acked  int64
	// Metadata is evaluated only when a new upload is created.
	Metadata func() (Metadata, error)
	// Progress persists (handle, offset) after every server acknowledgement.
	Progress func(ctx context.Context, handle string, offset int64) error
	// Throttle blocks until n bytes may be sent. Optional.
	Throttle func(ctx context.Context, n int) error
	// Chunk observes every accepted chunk. Optional.
	Chunk func(offset int64, n int)
}

// Upload drives one file through probe, create and PATCH. It polls ctx before
// every chunk and never sleeps.
func (c *Client) Upload(ctx context.Context, job Job) Outcome {
	logger := log.WithContext(ctx, log.WithComponent("tus"))

	f, err := os.Open(job.Path)
	if err != nil {
		return RetryableFailure{Reason: "open segment", Err: err, Local: true}
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return RetryableFailure{Reason: "stat segment", Err: err, Local: true}
	}
	total := st.Size()

	handle, offset := job.Handle, int64(0)
	if handle != "" {
		off, err := c.Probe(ctx, handle)
		switch {
		case errors.Is(err, ErrUploadNotFound):
			logger.Info().Str(log.FieldHandle, handle).Str(log.FieldEvent, "upload.handle_gone").Msg("remote upload expired, creating a new one")
			handle = ""
		case err != nil:
			if ctx.Err() != nil {
				return Stopped{Handle: handle, Offset: job.Acked}
			}
			return RetryableFailure{Reason: "probe", Err: err}
		case off < job.Acked:
			// The server lost acknowledged data. Offsets only move forward
			// on a handle, so start over from 0 on a fresh resource rather
			// than adopting the lower offset.
			logger.Warn().Str(log.FieldHandle, handle).Int64(log.FieldOffset, off).Int64("acked", job.Acked).
				Str(log.FieldEvent, "upload.offset_regressed").Msg("server offset behind acknowledged offset, creating a new upload")
			handle = ""
		default:
			offset = min(off, total)
			if err := job.Progress(ctx, handle, offset); err != nil {
				return RetryableFailure{Reason: "persist probed offset", Err: err, Local: true}
			}
		}
	}

	if handle == "" {
		md := Metadata(nil)
		if job.Metadata != nil {
			if md, err = job.Metadata(); err != nil {
				return RetryableFailure{Reason: "build metadata", Err: err, Local: true}
			}
		}
		if ctx.Err() != nil {
			return Stopped{Handle: job.Handle, Offset: job.Acked}
		}
		handle, err = c.Create(ctx, total, md)
		if err != nil {
			if ctx.Err() != nil {
				return Stopped{Handle: job.Handle, Offset: job.Acked}
			}
			return RetryableFailure{Reason: "create", Err: err}
		}
		offset = 0
		if err := job.Progress(ctx, handle, 0); err != nil {
			return RetryableFailure{Reason: "persist handle", Err: err, Local: true}
		}
		logger.Info().Str(log.FieldHandle, handle).Int64(log.FieldTotal, total).Str(log.FieldEvent, "upload.created").Msg("upload created")
	}

	buf := make([]byte, c.opts.ChunkSize)
	for offset < total {
		if ctx.Err() != nil {
			return Stopped{Handle: handle, Offset: offset}
		}
		n := int(min(int64(len(buf)), total-offset))
		if _, err := f.ReadAt(buf[:n], offset); err != nil && !errors.Is(err, io.EOF) {
			return RetryableFailure{Reason: "read segment", Err: err, Local: true}
		}
		if job.Throttle != nil {
			if err := job.Throttle(ctx, n); err != nil {
				if ctx.Err() != nil {
					return Stopped{Handle: handle, Offset: offset}
				}
				return RetryableFailure{Reason: "throttle", Err: err, Local: true}
			}
		}

		next, err := c.Patch(ctx, handle, offset, buf[:n])
		if err != nil && ctx.Err() != nil {
			return Stopped{Handle: handle, Offset: offset}
		}
		if err != nil && next <= offset {
			return RetryableFailure{Reason: "patch", Err: err}
		}
		if next <= offset {
			return RetryableFailure{Reason: "offset did not advance", Err: fmt.Errorf("%w: offset %d after patch at %d", ErrProtocol, next, offset)}
		}
		next = min(next, total)
		if err := job.Progress(ctx, handle, next); err != nil {
			return RetryableFailure{Reason: "persist offset", Err: err, Local: true}
		}
		if job.Chunk != nil {
			job.Chunk(offset, int(next-offset))
		}
		logger.Debug().Str(log.FieldHandle, handle).Int64(log.FieldOffset, next).Int64(log.FieldTotal, total).
			Str(log.FieldEvent, "upload.chunk_accepted").Msg("chunk accepted")
		offset = next
	}
	return Completed{Handle: handle, At: time.Now().UTC()}
}
