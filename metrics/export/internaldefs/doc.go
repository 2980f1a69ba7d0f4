// Package internaldefs holds the metric names, help text and bucket bounds
// shared by the exporters.
//
// Both the Prometheus and OTel exporters read these definitions so their
// metric names and bucket boundaries stay identical.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
