// Package obs wires the engine's emit.Emitter, graph.PrometheusMetrics,
// and an OpenTelemetry tracer into one bundle the rest of the orchestrator
// constructs once at startup. The emitter fans each event out to a
// LogEmitter (human-readable lines) and an OTelEmitter (spans) so every
// component logs through one surface rather than inventing a second path.
package obs

import (
	"context"
	"io"

	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/orchestrator/taskorch/graph"
	"github.com/orchestrator/taskorch/graph/emit"
)

// Bundle groups the observability primitives every long-lived component
// pulls from.
type Bundle struct {
	Emitter  emit.Emitter
	Metrics  *graph.PrometheusMetrics
	Registry *prometheus.Registry
	Tracer   *sdktrace.TracerProvider
}

// New constructs a Bundle: a LogEmitter writing to out, Prometheus metrics
// on a fresh registry, and an OTel tracer provider tagged with
// serviceName. Callers should call Bundle.Shutdown on exit.
func New(out io.Writer, serviceName string) (*Bundle, error) {
	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)

	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	// One event stream feeds both backends: readable lines on out, spans
	// on the tracer provider.
	emitter := emit.NewMultiEmitter(emit.NewLogEmitter(out, false), emit.NewOTelEmitter(tp))

	return &Bundle{Emitter: emitter, Metrics: metrics, Registry: registry, Tracer: tp}, nil
}

// MetricsHandler exposes the Prometheus registry for GET /metrics.
func (b *Bundle) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.Registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the tracer provider.
func (b *Bundle) Shutdown(ctx context.Context) error {
	return b.Tracer.Shutdown(ctx)
}
