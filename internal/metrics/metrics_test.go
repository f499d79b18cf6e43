// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/segrelay/internal/metrics"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestCaptureCounters(t *testing.T) {
	before := counterValue(t, "segrelay_capture_frame_drops_total", map[string]string{"reason": "evicted"})
	metrics.IncFrameDrop("evicted")
	metrics.IncFrameDrop("evicted")
	after := counterValue(t, "segrelay_capture_frame_drops_total", map[string]string{"reason": "evicted"})
	assert.Equal(t, before+2, after)
}

func TestCircuitBreakerStateIsOneHot(t *testing.T) {
	metrics.SetCircuitBreakerState("uploader", "open")
	assert.Equal(t, 1.0, counterValue(t, "segrelay_circuit_breaker_state", map[string]string{"component": "uploader", "state": "open"}))
	assert.Equal(t, 0.0, counterValue(t, "segrelay_circuit_breaker_state", map[string]string{"component": "uploader", "state": "closed"}))

	metrics.SetCircuitBreakerState("uploader", "closed")
	assert.Equal(t, 0.0, counterValue(t, "segrelay_circuit_breaker_state", map[string]string{"component": "uploader", "state": "open"}))
}

func TestUploadBytes(t *testing.T) {
	before := counterValue(t, "segrelay_upload_bytes_total", nil)
	metrics.AddUploadBytes(1 << 20)
	assert.Equal(t, before+float64(1<<20), counterValue(t, "segrelay_upload_bytes_total", nil))
}

func TestCollectorsLint(t *testing.T) {
	metrics.SetPendingSegments(3)
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer, "segrelay_upload_pending_segments")
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestPromhttpExposure(t *testing.T) {
	metrics.IncUploadOutcome("completed")
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `segrelay_upload_outcomes_total{outcome="completed"}`))
}
