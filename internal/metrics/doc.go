// Package metrics exposes Prometheus instrumentation for the feed engine.
//
// Metrics exposed:
//   - Slices emitted, data points emitted and dropped
//   - Adapter fetch errors and durations
//   - Security changes and active subscriptions
//   - Synchronizer step duration and hand-off wait
//   - Tick stream reconnects
package metrics
