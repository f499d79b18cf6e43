// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/metrics"
	"github.com/ManuGH/segrelay/internal/procgroup"
)

const (
	DefaultBinary = "ffmpeg"
	killGrace     = 2 * time.Second
)

// process is one supervised ffmpeg invocation with piped stdin/stdout and a
// ring buffer of stderr.
type process struct {
	role   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	ring   *LineRing
	waitCh chan error
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func startProcess(ctx context.Context, role, bin string, args []string, withStdin bool) (*process, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	logger := log.WithContext(ctx, log.WithComponent("ffmpeg")).With().Str("role", role).Logger()

	cmd := exec.Command(bin, args...)
	procgroup.Set(cmd)
	p := &process{
		role:   role,
		cmd:    cmd,
		ring:   NewLineRing(64),
		waitCh: make(chan error, 1),
		logger: logger,
	}
	cmd.Stderr = p.ring

	var err error
	if withStdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, err
		}
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		metrics.IncFFmpegStart(role, "error")
		return nil, fmt.Errorf("ffmpeg %s: start: %w", role, err)
	}
	metrics.IncFFmpegStart(role, "ok")
	logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("ffmpeg started")

	go func() {
		err := cmd.Wait()
		p.waitCh <- err
		close(p.waitCh)
	}()
	return p, nil
}

// closeInput signals end of input.
func (p *process) closeInput() error {
	if p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

// stop terminates the process group and returns its exit error.
func (p *process) stop() error {
	p.closeOnce.Do(func() {
		_ = p.closeInput()
		err := procgroup.Terminate(p.cmd, p.waitCh, killGrace)
		reason := "exit0"
		if err != nil {
			reason = "error"
		}
		metrics.IncFFmpegExit(p.role, reason)
		if err != nil {
			p.closeErr = fmt.Errorf("ffmpeg %s: %w (%s)", p.role, err, p.ring.Tail(5))
		}
	})
	return p.closeErr
}
