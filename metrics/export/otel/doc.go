// Package otel provides OpenTelemetry bindings for the engine counters.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine metric
// plus the audit backpressure counter. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection cycle. Callers own
// the MeterProvider; this package only registers against a supplied Meter.
package otel
