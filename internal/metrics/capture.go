// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_capture_errors_total",
		Help: "Capture engine errors by kind",
	}, []string{"kind"}) // kind=encoder|audio|muxer|start

	frameDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_capture_frame_drops_total",
		Help: "Frames or samples dropped before reaching the muxer",
	}, []string{"reason"}) // reason=short|evicted|early|audio_overrun

	samplesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_capture_samples_written_total",
		Help: "Encoded samples written to the container by track kind",
	}, []string{"kind"})

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segrelay_recording_active",
		Help: "Whether a recording session is active (1) or idle (0)",
	})

	segmentsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_segments_finalized_total",
		Help: "Recorded segments by finalization outcome",
	}, []string{"outcome"}) // outcome=finalized|discarded

	segmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segrelay_segment_duration_seconds",
		Help:    "Duration of finalized segments",
		Buckets: []float64{5, 30, 60, 120, 180, 240, 300, 420, 600},
	})
)

func IncCaptureError(kind string) { captureErrors.WithLabelValues(kind).Inc() }
func IncFrameDrop(reason string) { frameDrops.WithLabelValues(reason).Inc() }
func IncSamplesWritten(kind string) { samplesWritten.WithLabelValues(kind).Inc() }

// SetRecordingActive flips the recording gauge.
func SetRecordingActive(active bool) {
	if active {
		recordingActive.Set(1)
		return
	}
	recordingActive.Set(0)
}

// RecordSegmentFinalized counts a finalized segment and its duration.
func RecordSegmentFinalized(durationMs int64) {
	segmentsFinalized.WithLabelValues("finalized").Inc()
	segmentDuration.Observe(float64(durationMs) / 1000)
}

func IncSegmentDiscarded() { segmentsFinalized.WithLabelValues("discarded").Inc() }
