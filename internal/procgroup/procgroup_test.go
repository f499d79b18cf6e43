// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestTerminateKillsGroup(t *testing.T) {
	cmd, waitCh := start(t, "sleep 100 & sleep 100")
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, pgid, "child leads its own group")

	err = Terminate(cmd, waitCh, 500*time.Millisecond)
	assert.Error(t, err, "killed by signal")

	// Give the orphaned sleep a moment to be reaped by init.
	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	cmd, waitCh := start(t, "trap '' TERM; sleep 100")
	began := time.Now()
	err := Terminate(cmd, waitCh, 100*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestTerminateNil(t *testing.T) {
	assert.NoError(t, Terminate(nil, nil, time.Second))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}
