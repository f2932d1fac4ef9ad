package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Command actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command is a subscription command sent to the vendor.
type Command struct {
	ID      int64    `json:"id"`
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"` // TICKER.market.type
}

// Message types.
const (
	TypeTrade  = "trade"
	TypeQuote  = "quote"
	TypeBar    = "bar"
	TypeStatus = "status"
)

// Message is one vendor message. Fields that do not apply to Type are
// omitted on the wire.
type Message struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"ts"` // Unix milliseconds; bars: period start

	// Trades
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`

	// Quotes
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	BidSize decimal.Decimal `json:"bid_size"`
	AskSize decimal.Decimal `json:"ask_size"`

	// Bars
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	PeriodMs int64           `json:"period_ms"`

	// Status and command acknowledgements
	ID     int64  `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://stream.example.com/v1/ticks)
	Header       http.Header   // Extra handshake headers (auth)
	PingInterval time.Duration // How often we ping the server
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100000,
	}
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	URL               string
	PingInterval      time.Duration
	PingTimeout       time.Duration
	WriteTimeout      time.Duration
	BufferSize        int
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	c := DefaultClientConfig()
	return StreamConfig{
		PingInterval:      c.PingInterval,
		PingTimeout:       c.PingTimeout,
		WriteTimeout:      c.WriteTimeout,
		BufferSize:        c.BufferSize,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
	}
}

// StreamStats is a point-in-time view of stream counters.
type StreamStats struct {
	Connected  bool
	Symbols    int
	Received   int64 // Raw messages read
	Pushed     int64 // Data points accepted by the sink
	Rejected   int64 // Data points the sink refused (unsubscribed)
	BadFrames  int64 // Messages that failed to parse
	Reconnects int64
}
