package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys, following perles' semantic-convention naming.
const (
	AttrNodeName = "node.name"
	AttrNodeType = "node.type"
	AttrItemPath = "item.path"
	AttrCacheHit = "cache.hit"

	AttrErrorMessage = "error.message"
)

// Span name prefixes.
const (
	SpanPrefixNode = "node."
	SpanPrefixItem = "node.item."
)

// StartNode opens a span covering one node's full Run, tagged with its
// name and type.
func StartNode(ctx context.Context, tracer trace.Tracer, nodeName, nodeType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrefixNode+nodeName,
		trace.WithAttributes(
			attribute.String(AttrNodeName, nodeName),
			attribute.String(AttrNodeType, nodeType),
		),
	)
}

// StartItem opens a span covering one item within a node's Run, tagged
// with the node name and item path.
func StartItem(ctx context.Context, tracer trace.Tracer, nodeName, item string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrefixItem+nodeName,
		trace.WithAttributes(
			attribute.String(AttrNodeName, nodeName),
			attribute.String(AttrItemPath, item),
		),
	)
}

// EndWithError records err on span (if non-nil) as a failed status and
// ends it; otherwise it ends the span with no status change.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	}
	span.End()
}
