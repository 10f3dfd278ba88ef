package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluentgate/fluentgate/internal/sandbox"
)

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing.
type InstrumentedSandbox struct {
	inner   sandbox.Sandbox
	engine  string
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSandbox wraps a sandbox with observability. The engine label
// records which engine identifier the execution was dispatched for.
func NewInstrumentedSandbox(inner sandbox.Sandbox, engine string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:   inner,
		engine:  engine,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "engine.execute",
			trace.WithAttributes(
				attribute.String("engine.name", s.engine),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case result != nil && result.TimedOut:
		status = "timeout"
	case result != nil && result.ExitCode != 0:
		status = "nonzero_exit"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.Int("engine.exit_code", result.ExitCode))
		}
	}

	if s.metrics != nil {
		s.metrics.ExecutionsTotal.WithLabelValues(s.engine, status).Inc()
		s.metrics.ExecutionDuration.WithLabelValues(s.engine).Observe(duration)
	}

	return result, err
}

var _ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
