// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_upload_chunks_total",
		Help: "PATCH requests by result",
	}, []string{"result"}) // result=ok|error|conflict

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segrelay_upload_bytes_total",
		Help: "Bytes acknowledged by the upload server",
	})

	uploadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_upload_outcomes_total",
		Help: "Per-segment upload outcomes",
	}, []string{"outcome"}) // outcome=completed|retry|failed|stopped

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segrelay_upload_duration_seconds",
		Help:    "Wall time spent uploading one segment",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	uploadRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_upload_runs_total",
		Help: "Uploader runs by trigger and result",
	}, []string{"trigger", "result"})

	pendingSegments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segrelay_upload_pending_segments",
		Help: "Segments waiting for upload at the last run",
	})

	leaseConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_lease_conflicts_total",
		Help: "Upload attempts skipped because another writer held the segment lease",
	}, []string{"backend"})

	segmentsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segrelay_retention_segments_pruned_total",
		Help: "Uploaded segments removed by retention",
	})

	configReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segrelay_config_reloads_total",
		Help: "Config hot reloads by result",
	}, []string{"result"})
)

func IncUploadChunk(result string) { uploadChunks.WithLabelValues(result).Inc() }
func AddUploadBytes(n int64) { uploadBytes.Add(float64(n)) }
func IncUploadOutcome(outcome string) { uploadOutcomes.WithLabelValues(outcome).Inc() }
func ObserveUploadDuration(d time.Duration) { uploadDuration.Observe(d.Seconds()) }
func IncUploadRun(trigger, result string) { uploadRuns.WithLabelValues(trigger, result).Inc() }
func SetPendingSegments(n int) { pendingSegments.Set(float64(n)) }
func IncLeaseConflict(backend string) { leaseConflicts.WithLabelValues(backend).Inc() }
func AddSegmentsPruned(n int) { segmentsPruned.Add(float64(n)) }
func IncConfigReload(result string) { configReloads.WithLabelValues(result).Inc() }
