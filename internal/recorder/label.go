// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recorder

import (
	"errors"
	"strings"
)

// ErrInvalidLabel is returned when a payload carries no model and serial.
var ErrInvalidLabel = errors.New("recorder: work label needs model and serial")

// WorkLabel identifies the unit being worked on, usually scanned from a code
// printed on it.
type WorkLabel struct {
	Model  string
	Serial string
}

var (
	modelKeys  = []string{"model", "type", "m"}
	serialKeys = []string{"serial", "sn", "s"}
)

// ParseWorkLabel accepts key/value payloads ("model=X;serial=Y", "m:X,sn:Y")
// and positional ones ("X,Y", "X|Y", "X Y").
func ParseWorkLabel(payload string) (WorkLabel, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(payload), "\r", "\n")
	if normalized == "" {
		return WorkLabel{}, ErrInvalidLabel
	}

	kv := keyValues(normalized)
	label := WorkLabel{Model: firstOf(kv, modelKeys), Serial: firstOf(kv, serialKeys)}
	if label.Model != "" && label.Serial != "" {
		return label, nil
	}

	if tokens := fields(normalized, ",;|\n"); len(tokens) >= 2 {
		return WorkLabel{Model: tokens[0], Serial: tokens[1]}, nil
	}
	if parts := strings.Fields(normalized); len(parts) >= 2 {
		return WorkLabel{Model: parts[0], Serial: parts[1]}, nil
	}
	return WorkLabel{}, ErrInvalidLabel
}

func keyValues(raw string) map[string]string {
	out := make(map[string]string)
	for _, token := range fields(raw, ";,&\n") {
		i := strings.IndexAny(token, "=:")
		if i < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(token[:i]))
		value := strings.TrimSpace(token[i+1:])
		if key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

func firstOf(kv map[string]string, keys []string) string {
	for _, k := range keys {
		if v := kv[k]; v != "" {
			return v
		}
	}
	return ""
}

// fields splits on any of seps and drops blank items.
func fields(s, seps string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(seps, r) }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
