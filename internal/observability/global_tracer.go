package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer for the application.
func InitGlobalTracer() {
	globalTracer = otel.Tracer("feedbacksync")
}

// GetGlobalTracer returns the global tracer instance for the application.
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		// Fallback to default tracer if not initialized
		globalTracer = otel.Tracer("feedbacksync")
	}
	return globalTracer
}

// TraceFunction starts a new span with a descriptive name for the given component and function.
func TraceFunction(ctx context.Context, componentName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetGlobalTracer()
	spanName := fmt.Sprintf("%s.%s", componentName, functionName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceSyncFunction starts a new span for a sync driver function.
func TraceSyncFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "sync", functionName, attributes...)
}

// TraceBlobFunction starts a new span for a blob reassembly/persistence function.
func TraceBlobFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "blob", functionName, attributes...)
}

// TraceStoreFunction starts a new span for a document store function.
func TraceStoreFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "store", functionName, attributes...)
}

// TraceTrackerFunction starts a new span for an issue tracker function.
func TraceTrackerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "tracker", functionName, attributes...)
}

// TraceExportFunction starts a new span for a report exporter function.
func TraceExportFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "export", functionName, attributes...)
}

// AttributeRecordID returns a tracing attribute for a feedback record id.
func AttributeRecordID(id string) attribute.KeyValue {
	return attribute.String("record.id", id)
}

// AttributeBlobID returns a tracing attribute for a screenshot blob id.
func AttributeBlobID(id string) attribute.KeyValue {
	return attribute.String("blob.id", id)
}

// AttributeBatchSize returns a tracing attribute for a query batch size.
func AttributeBatchSize(n int) attribute.KeyValue {
	return attribute.Int("batch.size", n)
}

// AttributeIssueNumber returns a tracing attribute for a created issue number.
func AttributeIssueNumber(n int) attribute.KeyValue {
	return attribute.Int("issue.number", n)
}
