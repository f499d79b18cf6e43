// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/segrelay/internal/catalog"
)

// DirChecker verifies a directory exists and accepts writes.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory, got file", Message: c.path}
	}
	probe, err := os.CreateTemp(c.path, ".health-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "directory not writable", Message: err.Error()}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(filepath.Clean(name))
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

// StoreChecker issues a bounded catalog query.
type StoreChecker struct {
	store   catalog.Store
	timeout time.Duration
}

func NewStoreChecker(store catalog.Store) *StoreChecker {
	return &StoreChecker{store: store, timeout: 2 * time.Second}
}

func (c *StoreChecker) Name() string { return "catalog" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.store.List(ctx, catalog.ListFilter{Limit: 1}); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// LastRunChecker reports on the most recent upload run. Anything other than
// a "success" label degrades health but never makes the daemon unready.
type LastRunChecker struct {
	lastRun  func() (time.Time, string)
	staleAge time.Duration
}

// NewLastRunChecker returns a checker. staleAge <= 0 disables the age check.
func NewLastRunChecker(lastRun func() (time.Time, string), staleAge time.Duration) *LastRunChecker {
	return &LastRunChecker{lastRun: lastRun, staleAge: staleAge}
}

func (c *LastRunChecker) Name() string { return "last_upload_run" }

func (c *LastRunChecker) Check(context.Context) CheckResult {
	at, result := c.lastRun()
	if at.IsZero() {
		return CheckResult{Status: StatusHealthy, Message: "no upload run yet"}
	}
	if result != "success" {
		return CheckResult{Status: StatusDegraded, Message: "last upload run: " + result}
	}
	if c.staleAge > 0 && time.Since(at) > c.staleAge {
		return CheckResult{Status: StatusDegraded, Message: "last upload run is stale"}
	}
	return CheckResult{Status: StatusHealthy, Message: "last upload run successful"}
}
