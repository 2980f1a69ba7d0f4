// Package internal holds the pieces of the goAudit pipeline that are private to
// the module.
//
// # Sub-packages
//
//   - audit: event model, mirror sinks and the mirror dispatcher
//   - buffer: bounded ring buffer with overflow policies
//   - partition: time-partitioned index naming
//   - template: index template state machine
//   - flush: bulk flusher with retry and requeue
//   - metrics: lock-free counters and latency histograms
//   - cli: the goaudit command tree
//   - storetest: fault-injecting store for tests
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAudit API except through aliases.
//   - Be imported by any package outside the goAudit module.
package internal
