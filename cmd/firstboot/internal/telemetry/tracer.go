// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer creates spans for runs, stages and recoveries.
type Tracer interface {
	// StartSpan starts a span. Call the returned func with the operation's
	// error (nil for success) to end it.
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))

	// TraceID returns the trace ID of the span in ctx, or "".
	TraceID(ctx context.Context) string

	// Shutdown flushes pending spans.
	Shutdown(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// NoOp Implementation
// -----------------------------------------------------------------------------

// NoOpTracer creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() *NoOpTracer { return &NoOpTracer{} }

// StartSpan returns ctx unchanged.
func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// TraceID returns "".
func (NoOpTracer) TraceID(context.Context) string { return "" }

// Shutdown does nothing.
func (NoOpTracer) Shutdown(context.Context) error { return nil }

// -----------------------------------------------------------------------------
// OpenTelemetry Implementation
// -----------------------------------------------------------------------------

// TraceFileName is the span log inside the state directory.
const TraceFileName = "trace.jsonl"

// OTelTracer exports spans as JSON to a writer, one span per line.
type OTelTracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	closer   io.Closer
}

// NewFileTracer opens path for appending and exports spans into it.
func NewFileTracer(path, serviceName string) (*OTelTracer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	t, err := NewWriterTracer(f, serviceName)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.closer = f
	return t, nil
}

// NewWriterTracer exports spans into w.
func NewWriterTracer(w io.Writer, serviceName string) (*OTelTracer, error) {
	if serviceName == "" {
		serviceName = "firstboot"
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	// Spans are written synchronously: the process may be killed by a
	// reboot at any point.
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSyncer(exporter),
	)

	return &OTelTracer{
		tracer:   provider.Tracer(serviceName),
		provider: provider,
	}, nil
}

// StartSpan starts an internal span with string attributes.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(otelAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// TraceID returns the hex trace ID of the active span.
func (t *OTelTracer) TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown flushes the provider and closes the trace file.
func (t *OTelTracer) Shutdown(ctx context.Context) error {
	err := t.provider.Shutdown(ctx)
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
		t.closer = nil
	}
	return err
}

var (
	_ Tracer = (*NoOpTracer)(nil)
	_ Tracer = (*OTelTracer)(nil)
)
