package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const defaultServiceName = "gateway"

var tracerProvider *sdktrace.TracerProvider

// TracingConfig selects how orchestrator/cascade spans are exported.
type TracingConfig struct {
	ServiceName  string
	Enabled      bool
	ExporterType string // otlp|stdout|none
	OTLPEndpoint string
}

// InitTracingFromEnv configures the global TracerProvider from the standard
// OTEL_* environment variables, mirroring aixgo-dev-aixgo's own
// Init/InitFromEnv split but trimmed of its Langfuse-specific auth headers
// (no vendor-specific trace backend is part of spec.md's scope).
func InitTracingFromEnv() error {
	return InitTracing(TracingConfig{
		ServiceName:  getEnvOr("OTEL_SERVICE_NAME", defaultServiceName),
		Enabled:      getEnvOr("OTEL_TRACES_ENABLED", "true") == "true",
		ExporterType: getEnvOr("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint: getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	})
}

// InitTracing installs a TracerProvider as the OpenTelemetry global, so
// every otel.Tracer(...) call already made throughout internal/gateway
// (orchestrator, cascade) actually exports spans instead of silently
// no-op-ing against the default global tracer.
func InitTracing(cfg TracingConfig) error {
	if !cfg.Enabled || cfg.ExporterType == "none" {
		log.Println("tracing: disabled")
		return nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return fmt.Errorf("tracing: resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.ExporterType {
	case "otlp":
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)))
		if err != nil {
			return fmt.Errorf("tracing: otlp exporter: %w", err)
		}
		log.Printf("tracing: otlp exporter endpoint=%s", cfg.OTLPEndpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("tracing: stdout exporter: %w", err)
		}
		log.Println("tracing: stdout exporter")
	default:
		return fmt.Errorf("tracing: unknown exporter type %q", cfg.ExporterType)
	}

	tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tracerProvider)
	return nil
}

// ShutdownTracing flushes any buffered spans before the process exits.
func ShutdownTracing(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

func getEnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
