// Package audit delivers security events to a sink off the request path.
//
// # Components
//
//   - [Event] is one record: type, account, refresh family, client address, outcome.
//   - [Sink] consumes events. No-op, channel, JSON-lines and zap sinks are provided.
//   - [Dispatcher] buffers events and forwards them from a single goroutine.
//
// # Architecture boundaries
//
// The engine decides which events exist; this package only moves them.
//
// # What this package must NOT do
//
//   - Drop events based on their content.
//   - Import the root package or any sibling internal package.
package audit
