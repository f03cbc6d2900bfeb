// Package middleware holds the net/http middleware the authsvc HTTP surface
// is assembled from.
//
// # Middleware
//
//   - [Guard] requires a valid bearer access token and stores its claims in
//     the request context.
//   - [RateLimit] applies a token bucket per client IP.
//   - [RequestID], [ClientInfo] and [Logging] attach the request id, client
//     address and a request-scoped zap logger to the context.
//   - [Recover] turns panics into 500 responses and reports them to Sentry.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token decisions
// are delegated to Engine.ValidateAccess.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
package middleware
