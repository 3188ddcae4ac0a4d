package emit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitterRecordsOneSpanPerEvent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := NewOTelEmitter(tp)
	e.Emit(Event{RunID: "r1", Step: 3, NodeID: "specialist", Kind: "node_end"})
	require.NoError(t, e.Flush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "node_end", spans[0].Name)

	attrs := make(map[attribute.Key]attribute.Value, len(spans[0].Attributes))
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "r1", attrs["taskorch.run_id"].AsString())
	assert.Equal(t, int64(3), attrs["taskorch.step"].AsInt64())
	assert.Equal(t, "specialist", attrs["taskorch.node_id"].AsString())
}
