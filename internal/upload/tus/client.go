// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tus implements the client side of the tus 1.0.0 resumable upload
// protocol: create, offset probe and chunked PATCH.
package tus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/segrelay/internal/platform/httpx"
)

// Protocol constants.
const (
	Version = "1.0.0"

	HeaderResumable      = "Tus-Resumable"
	HeaderUploadLength   = "Upload-Length"
	HeaderUploadMetadata = "Upload-Metadata"
	HeaderUploadOffset   = "Upload-Offset"
	HeaderAPIKey         = "X-Api-Key"
	HeaderMethodOverride = "X-HTTP-Method-Override"

	ContentTypeOffset = "application/offset+octet-stream"

	// FilesPath is appended to the server base to form the creation endpoint.
	FilesPath = "/files/"

	DefaultChunkSize      = 1 << 20
	DefaultRequestTimeout = 30 * time.Second
)

var (
	// ErrProtocol reports a response that violates the protocol.
	ErrProtocol = errors.New("tus: protocol violation")
	// ErrUploadNotFound is returned by Probe for 404 and 410.
	ErrUploadNotFound = errors.New("tus: upload not found")
)

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Method string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tus: %s: unexpected status %d", e.Method, e.Code)
}

// Options configures a Client.
type Options struct {
	APIKey string
	// MetadataSeparator defaults to ",".
	MetadataSeparator string
	// MethodOverride sends PATCH as POST with X-HTTP-Method-Override.
	MethodOverride bool
	ChunkSize      int
	// HTTPClient defaults to a traced client with DefaultRequestTimeout.
	HTTPClient *http.Client
}

// Client talks to one tus creation endpoint.
type Client struct {
	endpoint *url.URL
	http     *http.Client
	opts     Options
}

// NewClient validates the creation endpoint and applies defaults.
func NewClient(endpoint string, opts Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("tus: parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("tus: endpoint %q must be an absolute http(s) URL", endpoint)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MetadataSeparator == "" {
		opts.MetadataSeparator = DefaultMetadataSeparator
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewTracedClient(DefaultRequestTimeout)
	}
	return &Client{endpoint: u, http: hc, opts: opts}, nil
}

// Endpoint returns the creation URL.
func (c *Client) Endpoint() string { return c.endpoint.String() }

// ChunkSize returns the PATCH body size.
func (c *Client) ChunkSize() int { return c.opts.ChunkSize }

// DeriveEndpoint maps a server base URL to its tus creation endpoint: the path
// is cut before the first "/api" and "/files/" is appended.
//
//	https://host:8443/app/api/v1 -> https://host:8443/app/files/
func DeriveEndpoint(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("tus: empty base url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("tus: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("tus: base url %q is not absolute", base)
	}
	p := u.Path
	if i := strings.Index(p, "/api"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSuffix(p, "/")
	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: p + FilesPath}
	return out.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var r io.Reader = http.NoBody
	if len(body) > 0 {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderResumable, Version)
	if c.opts.APIKey != "" {
		req.Header.Set(HeaderAPIKey, c.opts.APIKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	// Bodies are informational only.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp, nil
}

// Create registers an upload of length bytes and returns its absolute URL.
func (c *Client) Create(ctx context.Context, length int64, md Metadata) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(HeaderUploadLength, strconv.FormatInt(length, 10))
	if len(md) > 0 {
		req.Header.Set(HeaderUploadMetadata, md.Encode(c.opts.MetadataSeparator))
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("tus: create: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Method: http.MethodPost, Code: resp.StatusCode}
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("%w: create response without Location", ErrProtocol)
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("%w: bad Location %q: %v", ErrProtocol, loc, err)
	}
	return c.endpoint.ResolveReference(ref).String(), nil
}

// Probe returns the server offset of an upload, or ErrUploadNotFound.
func (c *Client) Probe(ctx context.Context, handle string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, handle, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("tus: probe: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return 0, ErrUploadNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, &StatusError{Method: http.MethodHead, Code: resp.StatusCode}
	}
	off, ok := parseOffset(resp.Header)
	if !ok {
		return 0, fmt.Errorf("%w: probe response without valid %s", ErrProtocol, HeaderUploadOffset)
	}
	return off, nil
}

// Patch sends one chunk at offset and returns the server's new offset. A 2xx
// without Upload-Offset implies offset+len(chunk). On other statuses a
// reported offset is still returned together with a *StatusError.
func (c *Client) Patch(ctx context.Context, handle string, offset int64, chunk []byte) (int64, error) {
	method := http.MethodPatch
	if c.opts.MethodOverride {
		method = http.MethodPost
	}
	req, err := c.newRequest(ctx, method, handle, chunk)
	if err != nil {
		return 0, err
	}
	req.ContentLength = int64(len(chunk))
	req.Header.Set(HeaderUploadOffset, strconv.FormatInt(offset, 10))
	req.Header.Set("Content-Type", ContentTypeOffset)
	if c.opts.MethodOverride {
		req.Header.Set(HeaderMethodOverride, http.MethodPatch)
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("tus: patch: %w", err)
	}
	off, ok := parseOffset(resp.Header)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: http.MethodPatch, Code: resp.StatusCode}
		if ok {
			return off, serr
		}
		return 0, serr
	}
	if !ok {
		return offset + int64(len(chunk)), nil
	}
	return off, nil
}

func parseOffset(h http.Header) (int64, bool) {
	v := h.Get(HeaderUploadOffset)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
