// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid https", "https://example.com/api/v1", []string{"http", "https"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with port", "http://example.com:8080", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)

			if tt.wantErr && v.IsValid() {
				t.Errorf("expected error, got none")
			}
			if !tt.wantErr && !v.IsValid() {
				t.Errorf("unexpected error: %v", v.Err())
			}
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{":8088", false},
		{"127.0.0.1:0", false},
		{"[::1]:9000", false},
		{"8088", true},
		{"localhost:http", true},
		{"localhost:70000", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := New()
			v.ListenAddr("Listen", tt.addr)
			if got := !v.IsValid(); got != tt.wantErr {
				t.Errorf("ListenAddr(%q) error = %v, want %v", tt.addr, got, tt.wantErr)
			}
		})
	}
}

func TestValidator_Ranges(t *testing.T) {
	v := New()
	v.Range("a", 5, 1, 10)
	v.DurationRange("b", 5*time.Minute, time.Minute, 10*time.Minute)
	v.Positive("c", 1)
	v.NonNegative("d", 0)
	if !v.IsValid() {
		t.Fatalf("unexpected errors: %v", v.Err())
	}

	v.Range("a", 11, 1, 10)
	v.DurationRange("b", 30*time.Second, time.Minute, 10*time.Minute)
	v.Positive("c", 0)
	v.NonNegative("d", -1)
	if got := len(v.Errors()); got != 4 {
		t.Fatalf("got %d errors, want 4: %v", got, v.Err())
	}
}

func TestValidator_OneOfAndNotEmpty(t *testing.T) {
	v := New()
	v.OneOf("backend", "sqlite", []string{"sqlite", "badger"})
	v.NotEmpty("name", "x")
	if !v.IsValid() {
		t.Fatalf("unexpected errors: %v", v.Err())
	}
	v.OneOf("backend", "mysql", []string{"sqlite", "badger"})
	v.NotEmpty("name", "   ")
	if len(v.Errors()) != 2 {
		t.Fatalf("want 2 errors, got %v", v.Errors())
	}
}

func TestValidator_Directory(t *testing.T) {
	tmp := t.TempDir()

	v := New()
	created := filepath.Join(tmp, "new", "nested")
	v.Directory("DataDir", created, false)
	if !v.IsValid() {
		t.Fatalf("unexpected error: %v", v.Err())
	}
	if info, err := os.Stat(created); err != nil || !info.IsDir() {
		t.Fatalf("directory was not created: %v", err)
	}

	v = New()
	v.Directory("DataDir", filepath.Join(tmp, "missing"), true)
	if v.IsValid() {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(tmp, "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	v = New()
	v.Directory("DataDir", file, false)
	if v.IsValid() {
		t.Error("expected error for regular file")
	}
}

func TestValidationError(t *testing.T) {
	v := New()
	if v.Err() != nil {
		t.Fatal("empty validator must return nil error")
	}
	v.AddError("a", "bad", 1)
	v.AddError("b", "worse", 2)

	err := v.Err()
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Errors()) != 2 {
		t.Fatalf("want 2 errors, got %d", len(verr.Errors()))
	}
	if !strings.Contains(err.Error(), "a: bad") || !strings.Contains(err.Error(), "b: worse") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
