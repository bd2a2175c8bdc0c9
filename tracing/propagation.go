package tracing

import (
	"github.com/opentracing/opentracing-go"
)

// Inject serializes span's context into a plain string map, suitable for
// carrying inside a control.ScheduleJob message's TraceContext field (a gob
// struct field can't hold an opentracing.SpanContext directly).
func Inject(tracer opentracing.Tracer, span opentracing.Span) map[string]string {
	carrier := opentracing.TextMapCarrier{}
	if err := tracer.Inject(span.Context(), opentracing.TextMap, carrier); err != nil {
		return nil
	}
	return map[string]string(carrier)
}

// Extract recovers a SpanContext previously produced by Inject. Returns
// (nil, nil) if carrier is empty, letting callers start a root span instead
// of treating a missing parent as an error.
func Extract(tracer opentracing.Tracer, carrier map[string]string) (opentracing.SpanContext, error) {
	if len(carrier) == 0 {
		return nil, nil
	}
	return tracer.Extract(opentracing.TextMap, opentracing.TextMapCarrier(carrier))
}

// StartChildFromCarrier starts a span for operationName, as a child of
// whatever span context carrier encodes if any, else as a new root span.
func StartChildFromCarrier(tracer opentracing.Tracer, operationName string, carrier map[string]string) opentracing.Span {
	parent, err := Extract(tracer, carrier)
	if err != nil || parent == nil {
		return tracer.StartSpan(operationName)
	}
	return tracer.StartSpan(operationName, opentracing.ChildOf(parent))
}
