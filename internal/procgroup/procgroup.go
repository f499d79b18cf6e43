// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts ffmpeg helpers in their own process group so the
// whole tree can be signalled and reaped together.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures the command to start in a new process group.
// Mandatory for Kill and Terminate to reach grandchildren.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill sends sig to the process group of cmd. A nil or already exited
// process is not an error.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return kill(cmd, sig)
}
