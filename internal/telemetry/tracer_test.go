// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "test-service", ExporterType: "grpc"})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ServiceName: "test-service", ExporterType: "invalid"})
	assert.EqualError(t, err, "unsupported exporter type: invalid (supported: grpc, http)")
}

func TestNewProviderWithExporter(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	provider := NewProviderWithExporter(exp)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, span := Tracer("segrelay/test").Start(context.Background(), "upload.segment")
	span.SetAttributes(ChunkAttributes(0, 10)...)
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "upload.segment", spans[0].Name)
	assert.Len(t, spans[0].Attributes, 2)
}

func TestProvider_ShutdownCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, (&Provider{}).Shutdown(ctx))
}
