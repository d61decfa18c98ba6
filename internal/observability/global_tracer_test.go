package observability

import (
	"context"
	"testing"

	"skillmodel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestAttributeDimension(t *testing.T) {
	attrs := AttributeDimension(models.DimensionKey{Type: models.DimensionCoreMetric, Key: "inference"})

	assert.Equal(t, []attribute.KeyValue{
		attribute.String("dimension.type", "core_metric"),
		attribute.String("dimension.key", "inference"),
	}, attrs)
}

func TestPipelineSpanAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	_, span := provider.Tracer("skillmodel").Start(context.Background(), "proficiency.apply_session_stats",
		trace.WithAttributes(AttributeUserID(3), AttributeTaxonomyVersion("2025.1")))
	span.AddEvent("dimension_failed", trace.WithAttributes(
		AttributeDimension(models.DimensionKey{Type: models.DimensionGenre, Key: "fiction"})...))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Attributes(), attribute.String("taxonomy.version", "2025.1"))
	assert.Contains(t, ended[0].Attributes(), attribute.Int("user.id", 3))

	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "dimension_failed", events[0].Name)
	assert.Contains(t, events[0].Attributes, attribute.String("dimension.key", "fiction"))
}
