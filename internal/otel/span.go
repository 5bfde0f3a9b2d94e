// Package otel provides OpenTelemetry span helpers shared by the sync engine and its stores.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on sync engine spans.
const (
	AttrStorageKey  = attribute.Key("statesync.storage.key")
	AttrSliceKey    = attribute.Key("statesync.slice.key")
	AttrSliceCount  = attribute.Key("statesync.slice.count")
	AttrDiffSlices  = attribute.Key("statesync.diff.slices")
	AttrErrorSource = attribute.Key("statesync.error.source")
	AttrStoreType   = attribute.Key("statesync.store.type")
	AttrBytes       = attribute.Key("statesync.bytes")
)

// StartSpan starts a span on tracer. A nil tracer yields the span already in ctx.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span as failed.
// The status description stays generic; the error text only goes into the span event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")
}
