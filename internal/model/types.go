package model

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Symbols
// -----------------------------------------------------------------------------

// SecurityType classifies the instrument behind a Symbol.
type SecurityType string

const (
	SecurityEquity SecurityType = "equity"
	SecurityForex  SecurityType = "forex"
	SecurityCrypto SecurityType = "crypto"
	SecurityFuture SecurityType = "future"
	SecurityOption SecurityType = "option"
	SecurityBase   SecurityType = "base" // custom data and universe symbols
)

// Symbol identifies a tradable instrument (ticker + market + security type).
// It is a value type: two Symbols are equal when all fields are equal.
type Symbol struct {
	Ticker       string       // Upper case (e.g., "SPY")
	Market       string       // Lower case (e.g., "usa")
	SecurityType SecurityType // Instrument class
}

// NewSymbol builds a normalized Symbol.
func NewSymbol(ticker, market string, securityType SecurityType) Symbol {
	return Symbol{
		Ticker:       strings.ToUpper(strings.TrimSpace(ticker)),
		Market:       strings.ToLower(strings.TrimSpace(market)),
		SecurityType: securityType,
	}
}

// ParseSymbol parses the "TICKER.market.type" form produced by String.
func ParseSymbol(s string) (Symbol, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Symbol{}, fmt.Errorf("invalid symbol %q: want TICKER.market.type", s)
	}
	return NewSymbol(parts[0], parts[1], SecurityType(strings.ToLower(parts[2]))), nil
}

// String returns "TICKER.market.type".
func (s Symbol) String() string {
	return s.Ticker + "." + s.Market + "." + string(s.SecurityType)
}

// IsZero reports whether s is the zero Symbol.
func (s Symbol) IsZero() bool {
	return s == Symbol{}
}

// -----------------------------------------------------------------------------
// Subscription parameters
// -----------------------------------------------------------------------------

// Resolution is the sampling period of a subscription.
type Resolution int

const (
	ResolutionTick Resolution = iota
	ResolutionSecond
	ResolutionMinute
	ResolutionHour
	ResolutionDaily
)

// Duration returns the bar period for the resolution (zero for ticks).
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionSecond:
		return time.Second
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (r Resolution) String() string {
	switch r {
	case ResolutionTick:
		return "tick"
	case ResolutionSecond:
		return "second"
	case ResolutionMinute:
		return "minute"
	case ResolutionHour:
		return "hour"
	case ResolutionDaily:
		return "daily"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution parses the names returned by Resolution.String.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tick":
		return ResolutionTick, nil
	case "second":
		return ResolutionSecond, nil
	case "minute":
		return ResolutionMinute, nil
	case "hour":
		return ResolutionHour, nil
	case "daily", "day":
		return ResolutionDaily, nil
	default:
		return 0, fmt.Errorf("unknown resolution %q", s)
	}
}

// TickType distinguishes trade and quote feeds for the same Symbol.
type TickType string

const (
	TickTrade TickType = "trade"
	TickQuote TickType = "quote"
)

// DataType is the kind of payload a subscription produces.
type DataType string

const (
	DataTick     DataType = "tick"
	DataTradeBar DataType = "tradebar"
	DataCustom   DataType = "custom"
	DataUniverse DataType = "universe"
)

// SubscriptionConfig holds the immutable parameters of one subscription.
// Two configs for the same Symbol (e.g. trade and quote) may coexist.
type SubscriptionConfig struct {
	Symbol           Symbol
	DataType         DataType
	Resolution       Resolution
	DataTimeZone     string // IANA name of the source time zone
	ExchangeTimeZone string // IANA name of the exchange time zone
	TickType         TickType
	FillForward      bool
	ExtendedHours    bool
	IsUniverse       bool   // Universe-selection feed, consumed by the applier
	IsInternal       bool   // Engine-added feed, hidden from security changes
	Source           string // Custom data source key (URL path or table key)
}

// IsSecurity reports whether adding or removing this config is a security
// change visible to the consumer.
func (c SubscriptionConfig) IsSecurity() bool {
	return !c.IsUniverse && !c.IsInternal
}

func (c SubscriptionConfig) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", c.Symbol, c.DataType, c.Resolution, c.TickType)
}
