// Package tracing wraps a single OpenTelemetry tracer used to emit one
// span per protocol.Query call. Grounded on the sibling pack repo's
// pkg/observability/otel/tracer.go (khangdcicloud-fluxor) — the teacher
// itself lists the otel dependencies in its go.mod but no teacher file
// actually imports them. Trimmed to a stdout-only exporter: jaeger and
// zipkin both need a running collector, which would make this package
// reach across the network, contradicting procmesh's single-process
// scope.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu           sync.RWMutex
	globalTracer trace.Tracer
	initialized  bool
)

// Initialize installs a stdout-exporting tracer provider as the global
// tracer, sampling every span (procmesh has no production traffic
// volume to budget for). Calling it twice is an error, matching the
// sibling package's single-initialization contract.
func Initialize(serviceName string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("tracing: already initialized")
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("tracing: new stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	globalTracer = tp.Tracer(serviceName)
	initialized = true
	return nil
}

// Tracer returns the global tracer, or a no-op tracer if Initialize was
// never called — letting components start a span unconditionally
// without checking IsInitialized first.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if globalTracer == nil {
		return noopTracer()
	}
	return globalTracer
}

func noopTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("noop")
}

// StartQuerySpan starts the span procmesh wraps around every
// protocol.Query call: method name and target thread id as attributes.
func StartQuerySpan(ctx context.Context, method, targetID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "procmesh.Query",
		trace.WithAttributes(
			attribute.String("procmesh.method", method),
			attribute.String("procmesh.target", targetID),
		),
	)
}

// IsInitialized reports whether Initialize has run.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return initialized
}

// Shutdown flushes and stops the tracer provider, if one was installed.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return nil
	}
	if tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
