// Package store defines the storage contract behind a goAudit trail and the
// helpers shared by its backends.
//
// # Backends
//
//   - store/memory: in-process maps for development and tests.
//   - store/redis: go-redis hashes and sorted sets.
//   - store/postgres: pgx tables, one per partition.
//
// # Error contract
//
// Whole-call failures wrap ErrUnavailable (retryable), ErrPermissionDenied or
// ErrMalformed. Per-document rejections are reported through ItemStatus.Err
// and never fail the whole batch.
//
// # What this package must NOT do
//
//   - Import goAudit or any internal package.
//   - Retry on its own. Retry policy belongs to the flusher.
package store
