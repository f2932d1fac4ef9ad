package api

import "github.com/shopspring/decimal"

// CustomResponse from GET /custom/{ticker}
type CustomResponse struct {
	Points []CustomPoint `json:"points"`
}

// CustomPoint is one custom observation. Time is when the value became
// available (RFC 3339).
type CustomPoint struct {
	Time   string            `json:"time"`
	Value  decimal.Decimal   `json:"value"`
	Fields map[string]string `json:"fields,omitempty"`
}

// UniverseResponse from GET /universes/{ticker}
type UniverseResponse struct {
	AsOf    string   `json:"as_of"`
	Symbols []string `json:"symbols"`
}
