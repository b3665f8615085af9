package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider(t *testing.T) {
	badCA := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(badCA, []byte("not a certificate"), 0600))

	tests := []struct {
		name        string
		cfg         Config
		expectError string
	}{
		{
			name: "disabled",
			cfg:  Config{},
		},
		{
			name:        "enabled without endpoint",
			cfg:         Config{Enabled: true},
			expectError: "endpoint not configured",
		},
		{
			name: "TLS with insecure skip verify",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:        "TLS with missing CA certificate",
			cfg:         Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/path/to/ca.crt"},
			expectError: "failed to read CA certificate",
		},
		{
			name:        "TLS with invalid CA certificate",
			cfg:         Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: badCA},
			expectError: "failed to append CA certificate",
		},
		{
			name: "plaintext with sampling",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", SampleRatio: 0.25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg, "test")
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Enabled, provider.Enabled())
			assert.NotNil(t, provider.Tracer("voldiag/test"))
			assert.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestTLSConfig(t *testing.T) {
	plain, err := tlsConfig(Config{})
	require.NoError(t, err)
	assert.Nil(t, plain)

	skip, err := tlsConfig(Config{TLSInsecure: true})
	require.NoError(t, err)
	require.NotNil(t, skip)
	assert.True(t, skip.InsecureSkipVerify)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestNewProviderWithExporter_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, err := NewProviderWithExporter(exporter, 0, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	assert.True(t, provider.Enabled())

	_, span := provider.Tracer("voldiag/test").Start(context.Background(), "kg_get_summary")
	span.End()
	require.NoError(t, provider.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "kg_get_summary", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, ServiceName, service)
}

func TestProvider_ZeroValue(t *testing.T) {
	var p Provider
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.ForceFlush(context.Background()))
}
