// Package prometheus exposes trail metrics as a Prometheus collector.
//
// [NewExporter] wraps a [goAudit.Trail]. The [Exporter] implements
// prometheus.Collector and reads a fresh snapshot on every scrape. Counter
// names are goaudit_*_total; the flush latency histogram is
// goaudit_flush_latency_seconds; goaudit_buffer_events reports buffer depth.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount Handler.
//   - Mutate trail state.
package prometheus
