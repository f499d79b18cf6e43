// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !windows

package tsmux

import (
	"github.com/google/renameio/v2"
)

// pendingSink writes to a temporary file that replaces path atomically on commit.
type pendingSink struct {
	f *renameio.PendingFile
}

func openSink(path string) (sink, error) {
	f, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return nil, err
	}
	return &pendingSink{f: f}, nil
}

func (s *pendingSink) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *pendingSink) Commit() error { return s.f.CloseAtomicallyReplace() }

func (s *pendingSink) Abort() error { return s.f.Cleanup() }
