package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the instruments recorded by the analysis pipeline.
// The zero value is not usable; build one with NewPipelineMetrics.
type PipelineMetrics struct {
	sessions    metric.Int64Counter
	dimensions  metric.Int64Counter
	diagnostics metric.Float64Histogram
	duration    metric.Float64Histogram
}

// NewPipelineMetrics registers the pipeline instruments on the global meter provider.
// With metrics disabled the global provider is a no-op and every record call is free.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("skillmodel")

	sessions, err := meter.Int64Counter("skillmodel.sessions.analysed",
		metric.WithDescription("Sessions run through AnalyzeSession, by outcome"))
	if err != nil {
		return nil, err
	}
	dimensions, err := meter.Int64Counter("skillmodel.dimensions.updated",
		metric.WithDescription("Proficiency dimension updates, by result"))
	if err != nil {
		return nil, err
	}
	diagnostics, err := meter.Float64Histogram("skillmodel.diagnostics.duration",
		metric.WithDescription("Latency of the external diagnosis call"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("skillmodel.analysis.duration",
		metric.WithDescription("End to end AnalyzeSession latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		sessions:    sessions,
		dimensions:  dimensions,
		diagnostics: diagnostics,
		duration:    duration,
	}, nil
}

// RecordSession counts one AnalyzeSession outcome and its latency
func (m *PipelineMetrics) RecordSession(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.sessions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDimensions counts applied, skipped and failed dimension updates
func (m *PipelineMetrics) RecordDimensions(ctx context.Context, applied, skipped, failed int) {
	if m == nil {
		return
	}
	for result, n := range map[string]int{"applied": applied, "skipped": skipped, "failed": failed} {
		if n > 0 {
			m.dimensions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", result)))
		}
	}
}

// RecordDiagnostics records one diagnosis call
func (m *PipelineMetrics) RecordDiagnostics(ctx context.Context, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.diagnostics.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}
