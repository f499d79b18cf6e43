// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ManuGH/segrelay/internal/capture"
)

// HEVCEncoders lists hardware HEVC encoders in default preference order.
var HEVCEncoders = []string{"hevc_vaapi", "hevc_nvenc", "hevc_qsv", "hevc_v4l2m2m", "hevc_videotoolbox"}

// DefaultVAAPIDevice is the render node used by hevc_vaapi.
const DefaultVAAPIDevice = "/dev/dri/renderD128"

const probeTimeout = 10 * time.Second

// parseEncoders extracts encoder names from `ffmpeg -encoders` output.
// Listing lines look like " V....D hevc_nvenc   NVIDIA NVENC hevc encoder".
func parseEncoders(out string) map[string]bool {
	found := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(out))
	inList := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		found[fields[1]] = true
	}
	return found
}

// ProbeEncoders returns the encoders compiled into the ffmpeg binary.
func ProbeEncoders(ctx context.Context, bin string) (map[string]bool, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: probe encoders: %w", err)
	}
	return parseEncoders(string(out)), nil
}

// deviceExists reports whether a device node is present.
func deviceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// selectEncoder returns the first preferred encoder that is available and
// has its device, or capture.ErrNoEncoder.
func selectEncoder(available map[string]bool, preference []string, vaapiDevice string) (string, error) {
	if len(preference) == 0 {
		preference = HEVCEncoders
	}
	for _, name := range preference {
		if !available[name] {
			continue
		}
		if name == "hevc_vaapi" && !deviceExists(vaapiDevice) {
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("%w (tried %s)", capture.ErrNoEncoder, strings.Join(preference, ", "))
}

// SelectHEVC probes ffmpeg and picks a hardware HEVC encoder.
func SelectHEVC(ctx context.Context, opts Options) (string, error) {
	available, err := ProbeEncoders(ctx, opts.Binary)
	if err != nil {
		return "", fmt.Errorf("%w: %v", capture.ErrNoEncoder, err)
	}
	return selectEncoder(available, opts.Encoders, opts.vaapiDevice())
}
