// Package otel publishes trail counters and histograms through OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per trail counter,
// one Int64ObservableGauge per cumulative histogram bucket, and a gauge for
// buffer depth. A single callback reads [goAudit.Trail.MetricsSnapshot] on
// each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate trail state.
package otel
