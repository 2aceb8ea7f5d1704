// Package models defines the core data structures shared by the simulation
// engine, the metrics layer and the outer surfaces (CLI, API, reports).
package models

import "time"

// OHLCV represents a single candlestick bar of price data.
type OHLCV struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TS returns the bar open time in epoch milliseconds.
func (b OHLCV) TS() int64 {
	return b.Timestamp.UnixMilli()
}

// Mid is the midpoint of the bar range, used when the intrabar price is unknown.
func (b OHLCV) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Contains reports whether price was traded inside the bar range.
func (b OHLCV) Contains(price float64) bool {
	return price >= b.Low && price <= b.High
}

// Valid reports whether the bar has a sane, positive range.
func (b OHLCV) Valid() bool {
	return b.Low > 0 && b.High >= b.Low && !b.Timestamp.IsZero()
}

// EquityPoint is one per-step snapshot of the simulated account.
type EquityPoint struct {
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`   // realized + mark-to-market of open positions
	Realized float64 `json:"realized"` // cumulative realized net PnL
	Open     int     `json:"open_positions"`
	Pending  int     `json:"pending_orders"`
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
