package api

import (
	"fmt"
	"time"

	"github.com/rickgao/livefeed/internal/model"
)

// ParseTimestamp parses an RFC 3339 timestamp, with or without fractional
// seconds. A missing zone is read as UTC.
func ParseTimestamp(iso string) (time.Time, error) {
	if iso == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", iso, err)
		}
	}

	return t.UTC(), nil
}

// ToDataPoints converts a custom response for sym. Points at or before
// since are skipped.
func (r CustomResponse) ToDataPoints(sym model.Symbol, since time.Time) ([]model.DataPoint, error) {
	out := make([]model.DataPoint, 0, len(r.Points))
	for i, p := range r.Points {
		at, err := ParseTimestamp(p.Time)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		if !since.IsZero() && !at.After(since) {
			continue
		}
		out = append(out, model.NewCustomData(sym, at, p.Value, p.Fields))
	}
	return out, nil
}

// ToSymbols parses the selected members.
func (r UniverseResponse) ToSymbols() ([]model.Symbol, error) {
	out := make([]model.Symbol, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		sym, err := model.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}
