package connection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

// ParseMessage decodes one vendor frame. ok is false for frames that carry
// no market data (status and acknowledgements).
func ParseMessage(data []byte) (dp model.DataPoint, ok bool, err error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.DataPoint{}, false, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg.DataPoint()
}

// DataPoint converts a data message into a model.DataPoint.
func (m Message) DataPoint() (model.DataPoint, bool, error) {
	switch m.Type {
	case TypeTrade, TypeQuote, TypeBar:
	default:
		return model.DataPoint{}, false, nil
	}

	sym, err := model.ParseSymbol(m.Symbol)
	if err != nil {
		return model.DataPoint{}, false, err
	}
	if m.Timestamp <= 0 {
		return model.DataPoint{}, false, fmt.Errorf("%s %s: missing timestamp", m.Type, m.Symbol)
	}
	at := time.UnixMilli(m.Timestamp).UTC()

	switch m.Type {
	case TypeTrade:
		return model.NewTradeTick(sym, at, m.Price, m.Size), true, nil
	case TypeQuote:
		return model.NewQuoteTick(sym, at, m.Bid, m.Ask, m.BidSize, m.AskSize), true, nil
	default:
		if m.PeriodMs <= 0 {
			return model.DataPoint{}, false, fmt.Errorf("bar %s: missing period", m.Symbol)
		}
		period := time.Duration(m.PeriodMs) * time.Millisecond
		return model.NewTradeBar(sym, at, period, m.Open, m.High, m.Low, m.Close, m.Volume), true, nil
	}
}
