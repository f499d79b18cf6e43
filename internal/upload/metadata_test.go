// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/upload/tus"
)

func TestBuildMetadata(t *testing.T) {
	idx := 3
	dur := int64(299_960)
	size := int64(1234)
	seg := &catalog.Segment{
		Token:      "tok",
		Index:      &idx,
		RecordedAt: time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600)),
		DurationMs: &dur,
		SizeBytes:  &size,
	}
	work := &catalog.Work{ID: "w1", Model: "M", Serial: "S", Process: "P"}

	got := buildMetadata(seg, work, "v2", "abc")
	want := tus.Metadata{
		{Key: "segmentUuid", Value: "tok"},
		{Key: "workId", Value: "w1"},
		{Key: "model", Value: "M"},
		{Key: "serial", Value: "S"},
		{Key: "process", Value: "P"},
		{Key: "segmentIndex", Value: "3"},
		{Key: "recordedAt", Value: "2025-03-04T04:06:07Z"},
		{Key: "durationSec", Value: "300.0"},
		{Key: "sizeBytes", Value: "1234"},
		{Key: "sha256", Value: "abc"},
		{Key: "appVersion", Value: "v2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildMetadataOmitsUnknownFields(t *testing.T) {
	seg := &catalog.Segment{Token: "tok", RecordedAt: time.Unix(0, 0)}
	got := buildMetadata(seg, &catalog.Work{ID: "w"}, "", "")
	for _, key := range []string{"segmentIndex", "durationSec", "sizeBytes", "sha256"} {
		_, ok := got.Get(key)
		assert.False(t, ok, key)
	}
	v, ok := got.Get("recordedAt")
	assert.True(t, ok)
	assert.Equal(t, "1970-01-01T00:00:00Z", v)
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))
	sum, err := fileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
