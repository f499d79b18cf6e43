// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/upload/tus"
)

// RecordedAtLayout is the UTC timestamp format sent as recordedAt.
const RecordedAtLayout = "2006-01-02T15:04:05Z"

// buildMetadata returns the Upload-Metadata fields the server indexes on.
// Optional fields are omitted when unknown.
func buildMetadata(seg *catalog.Segment, work *catalog.Work, appVersion, checksum string) tus.Metadata {
	var md tus.Metadata
	md.Add("segmentUuid", seg.Token)
	md.Add("workId", work.ID)
	md.Add("model", work.Model)
	md.Add("serial", work.Serial)
	md.Add("process", work.Process)
	if seg.Index != nil {
		md.Add("segmentIndex", strconv.Itoa(*seg.Index))
	}
	md.Add("recordedAt", seg.RecordedAt.UTC().Format(RecordedAtLayout))
	if seg.DurationMs != nil {
		md.Add("durationSec", strconv.FormatFloat(float64(*seg.DurationMs)/1000, 'f', 1, 64))
	}
	if seg.SizeBytes != nil {
		md.Add("sizeBytes", strconv.FormatInt(*seg.SizeBytes, 10))
	}
	if checksum != "" {
		md.Add("sha256", checksum)
	}
	md.Add("appVersion", appVersion)
	return md
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
