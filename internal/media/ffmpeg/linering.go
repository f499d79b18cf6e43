// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg drives ffmpeg subprocesses for device capture and hardware
// encoding, converting their byte streams into media packets.
package ffmpeg

import (
	"strings"
	"sync"
)

// LineRing keeps the last N lines written to it. Partial lines are held
// until their newline arrives.
type LineRing struct {
	mu      sync.RWMutex
	lines   []string
	head    int
	size    int
	partial string
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parts := strings.Split(r.partial+string(p), "\n")
	r.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last N complete lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		if line := r.lines[(r.head+i)%r.size]; line != "" {
			ordered = append(ordered, line)
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Tail joins the last n lines for error messages.
func (r *LineRing) Tail(n int) string {
	return strings.Join(r.LastN(n), " | ")
}
