// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tus

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMetadataSeparator joins Upload-Metadata pairs as tus 1.0.0 defines.
const DefaultMetadataSeparator = ","

// Field is one Upload-Metadata entry. Keys must not contain spaces or the
// separator.
type Field struct {
	Key   string
	Value string
}

// Metadata keeps insertion order so request headers are deterministic.
type Metadata []Field

// Add appends a field.
func (m *Metadata) Add(key, value string) {
	*m = append(*m, Field{Key: key, Value: value})
}

// Get returns the first value for key.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Encode renders "key base64(value)" pairs joined by sep.
func (m Metadata) Encode(sep string) string {
	if sep == "" {
		sep = DefaultMetadataSeparator
	}
	parts := make([]string, 0, len(m))
	for _, f := range m {
		parts = append(parts, f.Key+" "+base64.StdEncoding.EncodeToString([]byte(f.Value)))
	}
	return strings.Join(parts, sep)
}

// DecodeMetadata parses an Upload-Metadata header. Pairs may be separated by
// either "," or ";". A key without value decodes to "".
func DecodeMetadata(header string) (Metadata, error) {
	var md Metadata
	fields := strings.FieldsFunc(header, func(r rune) bool { return r == ',' || r == ';' })
	for _, pair := range fields {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, enc, _ := strings.Cut(pair, " ")
		val, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %q: %v", ErrProtocol, key, err)
		}
		md.Add(key, string(val))
	}
	return md, nil
}
