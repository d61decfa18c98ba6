package observability

import (
	"context"
	"fmt"

	"skillmodel/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer for the application.
func InitGlobalTracer() {
	globalTracer = otel.Tracer("skillmodel")
}

// GetGlobalTracer returns the global tracer instance for the application.
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		// Fallback to default tracer if not initialized
		globalTracer = otel.Tracer("skillmodel")
	}
	return globalTracer
}

// TraceFunction starts a new span with a descriptive name for the given service and function.
func TraceFunction(ctx context.Context, serviceName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetGlobalTracer()
	spanName := fmt.Sprintf("%s.%s", serviceName, functionName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceAnalysisFunction starts a new span for an analysis (orchestrator) function.
func TraceAnalysisFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "analysis", functionName, attributes...)
}

// TraceSessionFunction starts a new span for a session store function.
func TraceSessionFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "session", functionName, attributes...)
}

// TraceProficiencyFunction starts a new span for a proficiency or signal function.
func TraceProficiencyFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "proficiency", functionName, attributes...)
}

// TraceDiagnosticFunction starts a new span for a diagnostic annotator function.
func TraceDiagnosticFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "diagnostic", functionName, attributes...)
}

// TraceWorkerFunction starts a new span for a worker service function.
func TraceWorkerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "worker", functionName, attributes...)
}

// TraceHandlerFunction starts a new span for a handler function.
func TraceHandlerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "handler", functionName, attributes...)
}

// TraceDatabaseFunction starts a new span for a database function.
func TraceDatabaseFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "database", functionName, attributes...)
}

// AttributeUserID returns a tracing attribute for a user ID.
func AttributeUserID(id int) attribute.KeyValue {
	return attribute.Int("user.id", id)
}

// AttributeSessionID returns a tracing attribute for a session ID.
func AttributeSessionID(id int) attribute.KeyValue {
	return attribute.Int("session.id", id)
}

// AttributeDimension returns tracing attributes for a proficiency dimension.
func AttributeDimension(d models.DimensionKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("dimension.type", string(d.Type)),
		attribute.String("dimension.key", d.Key),
	}
}

// AttributeTaxonomyVersion returns a tracing attribute for the taxonomy document version.
func AttributeTaxonomyVersion(version string) attribute.KeyValue {
	return attribute.String("taxonomy.version", version)
}

// AttributeLimit returns a tracing attribute for a limit value.
func AttributeLimit(limit int) attribute.KeyValue {
	return attribute.Int("limit", limit)
}
