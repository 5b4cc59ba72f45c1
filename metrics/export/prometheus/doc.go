// Package prometheus exposes engine counters through client_golang.
//
// [Collector] reads a fresh [healthauth.MetricsSnapshot] on every scrape and
// emits const metrics, so nothing is double counted and the engine stays the
// only source of truth. [Handler] mounts a private registry; callers that
// already run a registry register the Collector themselves.
package prometheus
