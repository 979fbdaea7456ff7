// Package tracing wires an OTLP-over-HTTP trace exporter into the global
// OpenTelemetry tracer provider the dispatcher's spans are recorded
// against.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/corelay/corelay/internal/config"
)

// Shutdown flushes and stops the tracer provider. Callers should defer it
// from main so spans are exported before process exit.
type Shutdown func(context.Context) error

// noopShutdown is returned when telemetry is disabled.
func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting spans over OTLP/HTTP
// per cfg. If cfg.Enabled is false, tracing.Setup installs nothing and
// returns a no-op shutdown, leaving otel.Tracer(...) calls elsewhere in the
// codebase harmless (the default global provider is itself a no-op).
func Setup(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	opts := []otlptracehttp.Option{}
	if cfg.OTLPHTTPURL != "" {
		endpoint, insecure := splitEndpoint(cfg.OTLPHTTPURL)
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			attribute.String("service.name", serviceNameOr(cfg, "corelay")),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func serviceNameOr(cfg config.TelemetryConfig, fallback string) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return fallback
}

// splitEndpoint strips an http(s):// scheme from a configured collector
// URL, since otlptracehttp.WithEndpoint wants a bare host:port, and
// reports whether the scheme called for an insecure (plaintext) client.
func splitEndpoint(rawURL string) (endpoint string, insecure bool) {
	switch {
	case strings.HasPrefix(rawURL, "http://"):
		return strings.TrimPrefix(rawURL, "http://"), true
	case strings.HasPrefix(rawURL, "https://"):
		return strings.TrimPrefix(rawURL, "https://"), false
	default:
		return rawURL, true
	}
}
