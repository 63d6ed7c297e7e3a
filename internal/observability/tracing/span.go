package tracing

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		safe := SafeError(err)
		span.RecordError(safe)
		span.SetStatus(codes.Error, safe.Error())
	}
	span.End()
}
