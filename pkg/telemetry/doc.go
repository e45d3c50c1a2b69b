// Package telemetry provides the observability layer for Statecraft:
// structured logging via zerolog, Prometheus metrics, OpenTelemetry tracing,
// and an asynchronous operational event stream. The metrics, tracer, and
// event publisher types are nil-safe: a component constructed without them
// simply records nothing.
package telemetry
