// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecovererReturnsJSON500(t *testing.T) {
	r := NewRouter(StackConfig{})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestRequestIDRejectsOversizedHeader(t *testing.T) {
	r := NewRouter(StackConfig{})
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	req.Header.Set(HeaderRequestID, string(long))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestStatusWriterCapturesFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	sw.WriteHeader(http.StatusTeapot)
	_, _ = sw.Write([]byte("hi"))
	assert.Equal(t, http.StatusTeapot, sw.statusCode)
	assert.Equal(t, 2, sw.bytesWritten)
}
