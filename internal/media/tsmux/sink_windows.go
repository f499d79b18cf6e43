// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package tsmux

import (
	"os"
)

// fileSink writes path+".tmp" and renames it into place on commit.
type fileSink struct {
	path string
	f    *os.File
}

func openSink(path string) (sink, error) {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return nil, err
	}
	return &fileSink{path: path, f: f}, nil
}

func (s *fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *fileSink) Commit() error {
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	return os.Rename(s.path+".tmp", s.path)
}

func (s *fileSink) Abort() error {
	_ = s.f.Close()
	return os.Remove(s.path + ".tmp")
}
