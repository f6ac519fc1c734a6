// Package observability sets up span export for cube builds. The builder
// and pipeline start spans through the global OpenTelemetry tracer, so
// until Initialize runs every span is a no-op.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Exporters understood by Initialize.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate is the fraction of traces kept, 0 to 1
	SamplingRate float64
	// Exporter is "stdout" or "none"
	Exporter string
	// Writer receives stdout exports; os.Stdout when nil
	Writer       io.Writer
	BatchTimeout time.Duration
}

// DefaultConfig returns the tracing configuration of the CLI.
func DefaultConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "kylin-cubing",
		ServiceVersion: "dev",
		Environment:    getEnv("ENVIRONMENT", "development"),
		SamplingRate:   1.0,
		Exporter:       getEnv("TRACING_EXPORTER", ExporterStdout),
		BatchTimeout:   5 * time.Second,
	}
}

// Initialize installs a global tracer provider. Extra provider options,
// such as additional span processors, are applied last. A second call
// replaces the provider after shutting the previous one down.
func Initialize(cfg TracingConfig, opts ...sdktrace.TracerProviderOption) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	switch cfg.Exporter {
	case ExporterNone:
	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)))
	default:
		return fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
	tp := sdktrace.NewTracerProvider(append(tpOpts, opts...)...)

	mu.Lock()
	prev := provider
	provider = tp
	mu.Unlock()
	if prev != nil {
		_ = prev.Shutdown(context.Background())
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Shutdown flushes pending spans and stops the provider installed by
// Initialize.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return multierr.Combine(tp.ForceFlush(ctx), tp.Shutdown(ctx))
}

// Tracer returns the named tracer of the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TraceStage runs fn in a span named after a pipeline stage and records
// its row count, throughput and outcome.
func TraceStage(ctx context.Context, tracer trace.Tracer, stage string, fn func(ctx context.Context) (int64, error)) error {
	ctx, span := tracer.Start(ctx, stage)
	defer span.End()

	start := time.Now()
	rows, err := fn(ctx)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Int64("stage.rows", rows),
		attribute.Float64("stage.seconds", elapsed.Seconds()),
	)
	if elapsed > 0 {
		span.SetAttributes(attribute.Float64("stage.rows_per_second", float64(rows)/elapsed.Seconds()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// LoggerWithTrace adds the trace and span ids of ctx to log.
func LoggerWithTrace(ctx context.Context, log *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
