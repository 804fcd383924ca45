// Package telemetry installs the process-wide OpenTelemetry tracer provider.
// Tracing is off unless an exporter is configured.
package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for an unsupported exporter name.
var ErrUnknownExporter = stderrors.New("unknown trace exporter")

// Config controls telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// TraceExporter is "none" (or empty) or "stdout".
	TraceExporter string
	// Writer receives stdout-exported spans. Defaults to os.Stderr because
	// stdout carries command output and the MCP stream.
	Writer io.Writer
}

// Init installs a tracer provider for cfg and returns its shutdown func,
// which flushes pending spans. With no exporter it installs nothing and
// shutdown is a no-op.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	shutdown = func(context.Context) error { return nil }

	switch cfg.TraceExporter {
	case "", ExporterNone:
		return shutdown, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
