// Package goAudit is an asynchronous audit trail: request-handling code records
// security events (authentication attempts, authorization decisions, config
// changes) and the trail persists them in the background into a
// time-partitioned, searchable store.
//
// A [Trail] is assembled with [New] and [Builder.Build], started with
// [Trail.Start], and shut down with [Trail.Stop]. [Trail.Record] is the hot
// path: it copies the event into a bounded buffer and returns without any
// network round-trip. Flush workers drain the buffer in batches, ensure the
// partition template exists, and write each partition's batch with a single
// bulk call, retrying transient store failures with exponential backoff.
//
// Delivery is at-least-once. Event IDs are assigned at record time and used as
// document keys, so a retried batch never produces duplicate documents.
//
// # Architecture boundaries
//
// goAudit is the public surface. It exposes [Trail], [Builder], [Config], and
// value types ([Event], [Health], [MetricsSnapshot]). Buffering, flushing,
// template management and partition naming live under internal/. Backends
// implement store.Store and live under store/.
//
// # What this package must NOT do
//
//   - Perform I/O on the Record path.
//   - Block a producer longer than Buffer.EnqueueTimeout.
//   - Retry per-document rejections. Only whole-batch transient failures are
//     retried.
//   - Import any sub-package that re-imports goAudit (no import cycles).
package goAudit
