package openvia

import "context"

// Tracer creates spans for turns, LLM rounds, and tool executions. The
// observer package provides an OTEL-backed implementation; when no Tracer is
// configured, span creation is skipped entirely.
type Tracer interface {
	// Start creates a span with the given name and attributes, returning a
	// child context carrying it. Callers must call Span.End().
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents one traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute attached to a span.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr creates a string-typed span attribute.
func StringAttr(k, v string) SpanAttr { return SpanAttr{Key: k, Value: v} }

// IntAttr creates an int-typed span attribute.
func IntAttr(k string, v int) SpanAttr { return SpanAttr{Key: k, Value: v} }

// BoolAttr creates a bool-typed span attribute.
func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }
