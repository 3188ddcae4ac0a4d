package emit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter forwards events as OpenTelemetry spans on the provided
// tracer, one span per event, named after the event's Kind. internal/obs
// pairs it with a LogEmitter through MultiEmitter so the same event
// stream feeds both logs and traces.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter builds an OTelEmitter on tp.
func NewOTelEmitter(tp trace.TracerProvider) *OTelEmitter {
	return &OTelEmitter{tracer: tp.Tracer("taskorch/graph")}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Kind, trace.WithAttributes(
		attribute.String("taskorch.run_id", event.RunID),
		attribute.Int("taskorch.step", event.Step),
		attribute.String("taskorch.node_id", event.NodeID),
	))
	span.End()
}

// Flush implements Emitter; span export is the tracer provider's concern,
// flushed by internal/obs at shutdown.
func (o *OTelEmitter) Flush(context.Context) error { return nil }
