// Package source implements the Source Adapter contract and its three
// variants.
//
// Adapters:
//   - TickSource: push-style, low-latency ticks and bars (websocket or test producers)
//   - CustomSource: per-subscription asynchronous polling of remote/custom data
//   - UniverseSource: full-collection universe selection payloads
//
// The engine only requests data and sends subscribe/unsubscribe notifications;
// it never writes into an adapter.
package source
