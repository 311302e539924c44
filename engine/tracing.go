package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hupe1980/researchmesh/engine"

// Span names emitted by the scheduler.
const (
	spanRun    = "scheduler.run"
	spanDecide = "scheduler.decide"
	spanRound  = "scheduler.round"
	spanAct    = "agent.act"
	spanTool   = "tool.invoke"
)

func defaultTracer() trace.Tracer { return otel.Tracer(tracerName) }

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
