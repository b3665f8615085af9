// Package tracing sets up the OpenTelemetry tracer provider used for
// diagnostic query spans.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/moolen/voldiag/internal/logging"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "voldiag"

const exporterTimeout = 5 * time.Second

// Config holds tracing configuration.
type Config struct {
	Enabled bool
	// Endpoint is the OTLP gRPC collector, e.g. "otel-collector:4317".
	Endpoint    string
	TLSCAPath   string
	TLSInsecure bool
	// SampleRatio is the fraction of root traces kept; 0 keeps all.
	SampleRatio float64
}

// Provider owns the SDK tracer provider. The zero value is a disabled
// provider that leaves the global no-op provider installed.
type Provider struct {
	tp     *sdktrace.TracerProvider
	logger *logging.Logger
}

// NewProvider exports spans over OTLP/gRPC according to cfg.
func NewProvider(cfg Config, version string) (*Provider, error) {
	logger := logging.GetLogger("tracing")
	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		return &Provider{logger: logger}, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("tracing enabled but endpoint not configured")
	}

	opts, err := exporterOptions(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), exporterTimeout)
	defer cancel()
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	p, err := NewProviderWithExporter(exporter, cfg.SampleRatio, version)
	if err != nil {
		return nil, err
	}
	logger.Info("Tracing to %s (tls: %t, sample ratio: %g)", cfg.Endpoint, cfg.TLSInsecure || cfg.TLSCAPath != "", cfg.SampleRatio)
	return p, nil
}

// NewProviderWithExporter installs a provider batching spans into exporter.
func NewProviderWithExporter(exporter sdktrace.SpanExporter, sampleRatio float64, version string) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(sampleRatio)),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp, logger: logging.GetLogger("tracing")}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func exporterOptions(cfg Config) ([]otlptracegrpc.Option, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}

	tlsCfg, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return append(opts, otlptracegrpc.WithInsecure()), nil
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg))), nil
}

// tlsConfig returns nil for a plaintext connection.
func tlsConfig(cfg Config) (*tls.Config, error) {
	switch {
	case cfg.TLSInsecure:
		return &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}, nil
	case cfg.TLSCAPath != "":
		pem, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to append CA certificate from %s", cfg.TLSCAPath)
		}
		return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
	}
	return nil, nil
}

// Shutdown flushes remaining spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider: %v", err)
		return err
	}
	return nil
}

// ForceFlush exports buffered spans without shutting down.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

func (p *Provider) Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

func (p *Provider) Enabled() bool {
	return p.tp != nil
}
