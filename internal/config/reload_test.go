// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bandwidthConfig(dataDir string, limit int64) string {
	return fmt.Sprintf("data_dir: %s\nupload:\n  bandwidth_limit: %d\n", dataDir, limit)
}

func TestHolderReload(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, bandwidthConfig(dataDir, 1000))
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte(bandwidthConfig(dataDir, 2000)), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	assert.EqualValues(t, 2000, h.Get().Upload.BandwidthLimit)

	select {
	case cfg := <-ch:
		assert.EqualValues(t, 2000, cfg.Upload.BandwidthLimit)
	default:
		t.Fatal("listener not notified")
	}
}

func TestHolderReloadKeepsOldConfigOnError(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, bandwidthConfig(dataDir, 1000))
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)

	require.NoError(t, os.WriteFile(path, []byte("upload:\n  bandwidth_limit: -5\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	assert.EqualValues(t, 1000, h.Get().Upload.BandwidthLimit)
}

func TestHolderFullListenerDoesNotBlock(t *testing.T) {
	t.Setenv("SEGRELAY_DATA_DIR", t.TempDir())
	loader := NewLoader("", "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)
	ch := make(chan AppConfig)
	h.RegisterListener(ch)

	done := make(chan error, 1)
	go func() { done <- h.Reload(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload blocked on listener")
	}
}

func TestHolderWatcherReloadsOnWrite(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, bandwidthConfig(dataDir, 1000))
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	h.debounce = 20 * time.Millisecond
	ch := make(chan AppConfig, 4)
	h.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte(bandwidthConfig(dataDir, 4096)), 0o600))

	select {
	case cfg := <-ch:
		assert.EqualValues(t, 4096, cfg.Upload.BandwidthLimit)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestHolderWatcherDisabledWithoutFile(t *testing.T) {
	h := NewHolder(AppConfig{}, NewLoader("", ""))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
