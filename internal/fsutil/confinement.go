// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil guards filesystem operations on segment files.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside its root.
var ErrOutsideRoot = errors.New("fsutil: path escapes root")

// ConfinePath resolves target, following symlinks, and verifies that it lies
// under root. target must be absolute. The resolved path is returned.
func ConfinePath(root, target string) (string, error) {
	if !filepath.IsAbs(target) {
		return "", fmt.Errorf("fsutil: target path must be absolute: %s", target)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("fsutil: invalid root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}

	realPath, err := resolve(filepath.Clean(target))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("fsutil: rel: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, realPath)
	}
	return realPath, nil
}

// resolve evaluates symlinks of an existing path, or of its parent when the
// path itself is missing.
func resolve(p string) (string, error) {
	if _, err := os.Lstat(p); err == nil {
		rp, err := filepath.EvalSymlinks(p)
		if err != nil {
			return "", fmt.Errorf("fsutil: resolve %s: %w", p, err)
		}
		return rp, nil
	}
	dir := filepath.Dir(p)
	rp, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			return "", fmt.Errorf("fsutil: resolve parent %s: %w", dir, err)
		}
		return p, nil
	}
	return filepath.Join(rp, filepath.Base(p)), nil
}

// IsRegularFile checks that path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("fsutil: not a regular file: %s", path)
	}
	return nil
}
