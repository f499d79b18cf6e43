// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_proc_terminate_total",
		Help: "Signals sent to child process groups by result",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_proc_wait_total",
		Help: "How terminated child processes were reaped",
	}, []string{"reason"}) // reason=exited|sigterm|sigkill|timeout

	ffmpegStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_ffmpeg_starts_total",
		Help: "ffmpeg process starts by role and result",
	}, []string{"role", "result"})

	ffmpegExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_ffmpeg_exits_total",
		Help: "ffmpeg process exits by role and reason",
	}, []string{"role", "reason"})
)

func IncProcTerminate(signal, result string) { procTerminate.WithLabelValues(signal, result).Inc() }
func IncProcWait(reason string) { procWait.WithLabelValues(reason).Inc() }
func IncFFmpegStart(role, result string) { ffmpegStarts.WithLabelValues(role, result).Inc() }
func IncFFmpegExit(role, reason string) { ffmpegExits.WithLabelValues(role, reason).Inc() }
