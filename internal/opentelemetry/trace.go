// Package opentelemetry sets up tracing. Until InitTracer runs, spans come
// from the global noop provider and cost nothing.
package opentelemetry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "worlds"

var tracerProvider *sdktrace.TracerProvider

func tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}

// SubSpanFromCtxWithName starts a child span of whatever span ctx carries
func SubSpanFromCtxWithName(ctx context.Context, name string, attrs ...attribute.KeyValue) (trace.Span, context.Context) {
	ctx, span := tracer().Start(ctx, name, trace.WithAttributes(attrs...))
	return span, ctx
}

// RecordError marks span failed when err is not nil
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InitTracer exports spans over OTLP gRPC to endpoint and installs the
// provider globally
func InitTracer(ctx context.Context, endpoint string) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	log.WithField("endpoint", endpoint).Info("tracing enabled")
	return nil
}

// Shutdown flushes and stops the tracer provider, if one was started
func Shutdown(ctx context.Context) {
	if tracerProvider == nil {
		return
	}
	if err := tracerProvider.ForceFlush(ctx); err != nil {
		log.Errorf("Error flushing traces; is the collector for traces running?; %v", err)
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down tracer provider: %v", err)
	}
	tracerProvider = nil
}
