// Package prometheus exposes authsession metrics through
// prometheus/client_golang.
//
// [Collector] implements prometheus.Collector over an Engine's snapshot. Each
// scrape reads one snapshot and emits const metrics, so the engine keeps its
// lock-free counters and Prometheus never holds a reference into them.
// [Handler] serves a private registry holding the collector.
//
// # What this package must NOT do
//
//   - Register into prometheus.DefaultRegisterer; callers choose the registry.
//   - Mutate engine state.
package prometheus
