// Package audit defines the audit event model and the mirror dispatching used
// next to the indexed output.
//
// # Components
//
//   - [Event]: immutable audit record.
//   - [Sink]: mirror consumer interface with channel, JSON lines and no-op implementations.
//   - [Dispatcher]: buffered async relay that either drops or waits when full.
//
// # Architecture boundaries
//
// This package owns the event shape and mirror delivery. It does NOT buffer events
// for the store, batch them, or decide partitions; that belongs to buffer, flush
// and partition.
//
// # What this package must NOT do
//
//   - Import goAudit or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
