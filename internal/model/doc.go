// Package model defines shared data types used across the live feed engine.
//
// Conventions:
//   - Prices and sizes: decimal.Decimal, never float64
//   - Timestamps: time.Time in UTC
//   - Symbols and subscription configs are comparable values used as map keys
package model
