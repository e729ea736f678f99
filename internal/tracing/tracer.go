// Package tracing wires sitekiln's per-node and per-item execution into
// OpenTelemetry spans, following perles' internal/orchestration/tracing
// package: a Config/Provider pair where a disabled or unset exporter
// degrades to a zero-overhead no-op tracer, never a nil one.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the tracing subsystem.
type Config struct {
	// Enabled controls whether tracing is active. When false, a no-op
	// tracer is returned and every other field is ignored.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the export backend: "none", "file", or "stdout".
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// SampleRate controls the fraction of traces sampled. 1.0 samples
	// every run; this is a build tool, not a high-QPS service, so the
	// default is to sample everything.
	SampleRate float64 `mapstructure:"sample_rate"`

	// ServiceName identifies this process in emitted spans.
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns tracing disabled, matching a bare invocation.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "none",
		FilePath:    "",
		SampleRate:  1.0,
		ServiceName: "sitekiln",
	}
}

// Provider wraps an OpenTelemetry TracerProvider and the tracer derived
// from it.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewProvider configures tracing per cfg. If tracing is disabled, the
// returned Provider wraps a no-op tracer with zero overhead.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer("noop")}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("tracing: file_path is required for the file exporter")
		}
		exporter, err = NewFileExporter(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("tracing: creating file exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing: creating stdout exporter: %w", err)
		}
	case "none", "":
		exporter = nil
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sitekiln"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, tracer: provider.Tracer(serviceName), enabled: true}, nil
}

// Tracer returns the configured tracer. Safe to call even when tracing
// is disabled (it returns a no-op tracer in that case).
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether tracing is actually recording spans.
func (p *Provider) Enabled() bool { return p.enabled }

// Shutdown flushes and releases the underlying provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
