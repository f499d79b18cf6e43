// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads segrelay configuration.
//
// Precedence is ENV > YAML file > defaults. The YAML file is parsed strictly:
// unknown keys fail the load. Environment variables use the SEGRELAY_ prefix
// and the upper-cased YAML path, e.g. SEGRELAY_UPLOAD_ENDPOINT.
//
// Holder keeps the active configuration and reloads it when the file changes.
package config
