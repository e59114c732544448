package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name used for every span this
// gateway emits, so traces are easy to filter by origin in a shared
// collector.
const tracerName = "github.com/agentoven/mcpgateway"

// Tracer returns the tracer registered globally by Init. Before Init runs
// (or when telemetry is disabled) otel falls back to its no-op
// implementation, so callers never need to nil-check it.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
