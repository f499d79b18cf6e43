// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestConfigureAndWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "svc", Version: "v1"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("uploader")
	l.Info().Str(FieldEvent, "test.event").Msg("ok")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if entry["service"] != "svc" || entry["version"] != "v1" {
		t.Errorf("missing service/version: %v", entry)
	}
	if entry[FieldComponent] != "uploader" {
		t.Errorf("component: %v", entry[FieldComponent])
	}
	if entry[FieldEvent] != "test.event" {
		t.Errorf("event: %v", entry[FieldEvent])
	}
}

func TestReconfigureReplacesWriter(t *testing.T) {
	var first, second bytes.Buffer
	Configure(Config{Output: &first})
	Configure(Config{Output: &second})
	t.Cleanup(func() { Configure(Config{}) })

	l := Base()
	l.Info().Msg("x")
	if first.Len() != 0 {
		t.Errorf("first writer should be unused, got %q", first.String())
	}
	if second.Len() == 0 {
		t.Error("second writer should receive the entry")
	}
}
