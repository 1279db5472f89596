package tiercache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds the OpenTelemetry configuration used for coordinator
// spans. Tracing is entirely optional; spans are only created when a
// TracingConfig is wired in via WithTracing.
type TracingConfig struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider
}

// tracer returns a configured [trace.Tracer].
func (c *TracingConfig) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer("github.com/lopanhq/tiercache")
}

func (c *TracingConfig) start(ctx context.Context) (context.Context, trace.Span) {
	return c.tracer().Start(ctx, "tiercache.Get", trace.WithSpanKind(trace.SpanKindInternal))
}

// annotateSpan records the outcome of one Get on its span.
func annotateSpan(span trace.Span, key string, source Source, freshness Freshness, err error) {
	span.SetAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.source", source.String()),
		attribute.String("cache.freshness", freshness.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
