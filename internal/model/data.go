package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataPoint is one timestamped value for one Symbol. A single struct covers
// every kind; fields that do not apply to Kind are left zero.
// DataPoints are immutable once produced.
type DataPoint struct {
	// Common fields
	Symbol  Symbol
	Kind    DataType
	Time    time.Time // Start of the period (equals EndTime for ticks)
	EndTime time.Time // Time the point becomes available

	// Tick fields (Kind == DataTick)
	TickType TickType
	Price    decimal.Decimal
	Quantity decimal.Decimal
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskSize  decimal.Decimal

	// Bar fields (Kind == DataTradeBar)
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal

	// Custom fields (Kind == DataCustom)
	Value   decimal.Decimal
	Payload map[string]string

	// Universe fields (Kind == DataUniverse)
	Members []Symbol
}

// NewTradeTick builds a trade tick stamped at t.
func NewTradeTick(sym Symbol, t time.Time, price, quantity decimal.Decimal) DataPoint {
	t = t.UTC()
	return DataPoint{
		Symbol:   sym,
		Kind:     DataTick,
		Time:     t,
		EndTime:  t,
		TickType: TickTrade,
		Price:    price,
		Quantity: quantity,
	}
}

// NewQuoteTick builds a quote tick stamped at t.
func NewQuoteTick(sym Symbol, t time.Time, bid, ask, bidSize, askSize decimal.Decimal) DataPoint {
	t = t.UTC()
	return DataPoint{
		Symbol:   sym,
		Kind:     DataTick,
		Time:     t,
		EndTime:  t,
		TickType: TickQuote,
		Price:    bid.Add(ask).Div(decimal.NewFromInt(2)),
		BidPrice: bid,
		AskPrice: ask,
		BidSize:  bidSize,
		AskSize:  askSize,
	}
}

// NewTradeBar builds a bar covering [start, start+period).
func NewTradeBar(sym Symbol, start time.Time, period time.Duration, open, high, low, close, volume decimal.Decimal) DataPoint {
	start = start.UTC()
	return DataPoint{
		Symbol:  sym,
		Kind:    DataTradeBar,
		Time:    start,
		EndTime: start.Add(period),
		Open:    open,
		High:    high,
		Low:     low,
		Close:   close,
		Volume:  volume,
		Price:   close,
	}
}

// NewCustomData builds a custom payload that becomes available at end.
func NewCustomData(sym Symbol, end time.Time, value decimal.Decimal, payload map[string]string) DataPoint {
	end = end.UTC()
	return DataPoint{
		Symbol:  sym,
		Kind:    DataCustom,
		Time:    end,
		EndTime: end,
		Value:   value,
		Price:   value,
		Payload: payload,
	}
}

// NewUniverseData builds a selection payload keyed to a universe Symbol.
func NewUniverseData(universe Symbol, t time.Time, members []Symbol) DataPoint {
	t = t.UTC()
	cp := make([]Symbol, len(members))
	copy(cp, members)
	return DataPoint{
		Symbol:  universe,
		Kind:    DataUniverse,
		Time:    t,
		EndTime: t,
		Members: cp,
	}
}

// Matches reports whether the point belongs to a subscription with cfg.
func (d DataPoint) Matches(cfg SubscriptionConfig) bool {
	if d.Symbol != cfg.Symbol || d.Kind != cfg.DataType {
		return false
	}
	if d.Kind == DataTick && cfg.TickType != "" && d.TickType != cfg.TickType {
		return false
	}
	return true
}
