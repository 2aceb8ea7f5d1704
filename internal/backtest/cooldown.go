package backtest

import "time"

// Cooldown suppresses new proposals for a symbol until a quiet period has
// elapsed since its last signal event. Symbols are independent.
type Cooldown struct {
	window  int64 // ms
	enabled bool
	last    map[string]int64
}

// NewCooldown creates a cooldown of d. A disabled cooldown is always ready.
func NewCooldown(d time.Duration, enabled bool) *Cooldown {
	return &Cooldown{
		window:  d.Milliseconds(),
		enabled: enabled && d > 0,
		last:    make(map[string]int64),
	}
}

// Ready reports whether symbol may emit a new proposal at ts.
func (c *Cooldown) Ready(symbol string, ts int64) bool {
	if !c.enabled {
		return true
	}
	last, ok := c.last[symbol]
	return !ok || ts-last >= c.window
}

// Mark records a signal event for symbol at ts.
func (c *Cooldown) Mark(symbol string, ts int64) {
	if c.enabled {
		c.last[symbol] = ts
	}
}
