// Package tracing installs the global OpenTelemetry tracer provider used for
// worker task spans. Spans are written as JSON by the stdout exporter.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

// Config selects where spans go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Output is "stdout", "stderr" or a file path.
	Output string
}

// Init installs a tracer provider exporting to cfg.Output and returns its
// shutdown function.
func Init(cfg Config) (ShutdownFunc, error) {
	w, closeWriter, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		_ = closeWriter()
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	shutdown, err := InitWithExporter(cfg.ServiceName, cfg.ServiceVersion, exporter)
	if err != nil {
		_ = closeWriter()
		return nil, err
	}

	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if closeErr := closeWriter(); err == nil {
			err = closeErr
		}
		return err
	}, nil
}

// InitWithExporter installs a tracer provider that sends spans to exporter
// synchronously.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch output {
	case "", "stdout":
		return os.Stdout, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace output %s: %w", output, err)
		}
		return f, f.Close, nil
	}
}
