// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tustest provides an in-process tus 1.0.0 server for tests, with
// hooks to inject failures at every protocol step.
package tustest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Upload is the server-side state of one resource.
type Upload struct {
	ID       string
	Length   int64
	Offset   int64
	Metadata string
	// Received counts PATCH body bytes accepted, including any resent data.
	Received int64
	Patches  int

	sum hash.Hash
}

// SHA256 returns the hex digest of the bytes written so far.
func (u *Upload) SHA256() string {
	return hex.EncodeToString(u.sum.Sum(nil))
}

// Fault overrides the response of matching requests.
type Fault struct {
	Method string
	Status int
	// Times is the number of requests to fail; 0 means every request.
	Times int
}

// Server is a fake tus server. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	// APIKey, when set, is required in X-Api-Key.
	APIKey string
	// OmitPatchOffset drops Upload-Offset from successful PATCH responses.
	OmitPatchOffset bool
	// FreezeOffset makes PATCH succeed without advancing the offset.
	FreezeOffset bool
	// OnPatch runs after every accepted chunk, outside the lock.
	OnPatch func(u Upload)

	mu      sync.Mutex
	uploads map[string]*Upload
	order   []string
	faults  []*Fault
	counts  map[string]int
}

// New starts a server. The creation endpoint is URL()+"/files/".
func New() *Server {
	s := &Server{
		uploads: make(map[string]*Upload),
		counts:  make(map[string]int),
	}
	r := chi.NewRouter()
	r.Use(s.countRequests, s.injectFaults, s.requireHeaders)
	r.Post("/files/", s.handleCreate)
	r.Head("/files/{id}", s.handleHead)
	r.Patch("/files/{id}", s.handlePatch)
	r.Post("/files/{id}", s.handleOverride)
	r.Delete("/files/{id}", s.handleDelete)
	s.Server = httptest.NewServer(r)
	return s
}

// Endpoint returns the creation URL.
func (s *Server) Endpoint() string { return s.URL + "/files/" }

// Inject queues a fault. Faults are consumed in order of registration.
func (s *Server) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ff := f
	s.faults = append(s.faults, &ff)
}

// Requests returns how many requests with method reached the server.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method]
}

// Uploads returns copies of every upload in creation order.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, 0, len(s.order))
	for _, id := range s.order {
		if u, ok := s.uploads[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}

// Get returns a copy of an upload by id or absolute URL.
func (s *Server) Get(id string) (Upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[s.trimID(id)]
	if !ok {
		return Upload{}, false
	}
	return *u, true
}

// Expire forgets an upload so the next probe gets 404.
func (s *Server) Expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, s.trimID(id))
}

// Rewind sets the stored offset of an upload, simulating server-side data loss.
func (s *Server) Rewind(id string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.uploads[s.trimID(id)]; ok {
		u.Offset = offset
	}
}

func (s *Server) trimID(id string) string {
	if len(id) > len(s.Endpoint()) && id[:len(s.Endpoint())] == s.Endpoint() {
		return id[len(s.Endpoint()):]
	}
	return id
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if o := r.Header.Get("X-HTTP-Method-Override"); o != "" {
			method = o
		}
		s.mu.Lock()
		s.counts[method]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if o := r.Header.Get("X-HTTP-Method-Override"); o != "" {
			method = o
		}
		s.mu.Lock()
		status := 0
		for i, f := range s.faults {
			if f.Method != method {
				continue
			}
			status = f.Status
			if f.Times > 0 {
				f.Times--
				if f.Times == 0 {
					s.faults = append(s.faults[:i], s.faults[i+1:]...)
				}
			}
			break
		}
		s.mu.Unlock()
		if status != 0 {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Tus-Resumable", "1.0.0")
		if r.Header.Get("Tus-Resumable") != "1.0.0" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		if s.APIKey != "" && r.Header.Get("X-Api-Key") != s.APIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	if err != nil || length < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	u := &Upload{
		ID:       uuid.NewString(),
		Length:   length,
		Metadata: r.Header.Get("Upload-Metadata"),
		sum:      sha256.New(),
	}
	s.mu.Lock()
	s.uploads[u.ID] = u
	s.order = append(s.order, u.ID)
	s.mu.Unlock()

	// Relative reference; clients resolve it against the endpoint.
	w.Header().Set("Location", "/files/"+u.ID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.uploads[chi.URLParam(r, "id")]
	var off, length int64
	if ok {
		off, length = u.Offset, u.Length
	}
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Upload-Offset", strconv.FormatInt(off, 10))
	w.Header().Set("Upload-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-HTTP-Method-Override") != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.handlePatch(w, r)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/offset+octet-stream" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	claimed, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.uploads[chi.URLParam(r, "id")]
	if !ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if claimed != u.Offset {
		off := u.Offset
		s.mu.Unlock()
		w.Header().Set("Upload-Offset", strconv.FormatInt(off, 10))
		w.WriteHeader(http.StatusConflict)
		return
	}
	if u.Offset+int64(len(body)) > u.Length {
		s.mu.Unlock()
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	if !s.FreezeOffset {
		_, _ = u.sum.Write(body)
		u.Offset += int64(len(body))
	}
	u.Received += int64(len(body))
	u.Patches++
	snapshot := *u
	hook := s.OnPatch
	s.mu.Unlock()

	if !s.OmitPatchOffset {
		w.Header().Set("Upload-Offset", strconv.FormatInt(snapshot.Offset, 10))
	}
	w.WriteHeader(http.StatusNoContent)
	if hook != nil {
		hook(snapshot)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.Expire(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
