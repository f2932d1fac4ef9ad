// Package connection implements the vendor tick stream.
//
// A Stream keeps one WebSocket connection to the vendor:
//   - Subscribes and unsubscribes symbols as the tick source asks
//   - Parses trade, quote and bar messages into data points
//   - Pushes them into the tick source buffer
//   - Reconnects with exponential backoff and resubscribes every live symbol
package connection
