// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package net holds URL checks for outbound upload endpoints.
package net

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrScheme      = errors.New("endpoint scheme must be http or https")
	ErrNoHost      = errors.New("endpoint has no host")
	ErrCredentials = errors.New("endpoint must not embed credentials; use the API key")
	ErrFragment    = errors.New("endpoint must not carry a fragment")
)

// SanitizeURL removes user info and query parameters for safe logging.
func SanitizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	parsedURL.RawQuery = ""
	return parsedURL.String()
}

// ParseEndpoint validates a direct http(s) endpoint URL without credentials
// or fragment.
func ParseEndpoint(s string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrScheme
	}
	if u.Host == "" {
		return nil, ErrNoHost
	}
	if u.User != nil {
		return nil, ErrCredentials
	}
	if u.Fragment != "" {
		return nil, ErrFragment
	}
	return u, nil
}
