// Package middleware exposes net/http adapters that stamp request identity onto
// the context and record authentication and authorization decisions on an
// audit trail.
//
// # Adapters
//
//   - [Origin] attaches the caller address and the "rest" layer.
//   - [Guard] authenticates the request and records the outcome.
//   - [Authorize] applies an access rule and records the decision.
//
// Handlers further down the chain can call Trail.RecordContext with the
// request context and get principal, origin and layer filled in.
//
// # What this package must NOT do
//
//   - Implement credential checks itself (delegated to an [Authenticator]).
//   - Block the request on the audit store (recording is buffered).
//   - Fail a request because an event could not be recorded.
package middleware
