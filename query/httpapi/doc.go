// Package httpapi serves the trail's operational HTTP surface.
//
// Public: GET /healthz, GET /metrics (when a metrics handler is supplied).
// Authenticated, mounted when a token parser is supplied: GET /v1/events needs
// a bearer operator token carrying audit:read, GET /v1/health needs
// audit:health and adds every counter to the health report.
//
// # What this package must NOT do
//
//   - Record or modify audit events.
//   - Start or stop the trail. The caller owns its lifecycle.
package httpapi
