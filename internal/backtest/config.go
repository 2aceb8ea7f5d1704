package backtest

import (
	"errors"
	"fmt"
	"math"

	"github.com/seenimoa/signalsim/pkg/models"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid backtest config")

// ════════════════════════════════════════════════════════════════════
// Engine Configuration
// ════════════════════════════════════════════════════════════════════

// Config holds all parameters for a backtest run.
type Config struct {
	MaxEntryBars     int                          // bars a pending order may wait before expiring (default: 3)
	FeeRate          float64                      // taker fee as fraction of position size (default: 0.0004)
	SlippageBase     float64                      // mean entry slippage fraction (default: 0.0005)
	SlippageRange    float64                      // uniform ± spread around the mean (default: 0.0003)
	PositionSize     float64                      // nominal position size in quote currency (default: 1000)
	InitialCapital   float64                      // starting equity for the equity trace (default: 10000)
	MaxHoldingHours  float64                      // timeout for active positions (default: 72)
	CooldownHours    float64                      // per-symbol quiet period after a proposal (default: 4)
	AntiJitter       bool                         // enables the cooldown (default: true)
	MaxOpenPositions int                          // cap on active+pending; 0 = unlimited
	LookbackBars     int                          // bars handed to the signal source (default: 200)
	Seed             int64                        // slippage generator seed (default: 42)
	ExitLabels       map[models.ExitReason]string // display labels per exit reason
}

// DefaultExitLabels returns the default display label for each exit reason.
func DefaultExitLabels() map[models.ExitReason]string {
	return map[models.ExitReason]string{
		models.ExitStopLoss:       "Stop Loss",
		models.ExitTarget1:        "Target 1",
		models.ExitTarget2:        "Target 2",
		models.ExitTimeout:        "Timeout",
		models.ExitEntryNotFilled: "Entry Not Filled",
		models.ExitForcedClose:    "Closed At Run End",
	}
}

// DefaultConfig returns defaults suited to hourly crypto perpetuals.
func DefaultConfig() Config {
	return Config{
		MaxEntryBars:    3,
		FeeRate:         0.0004,
		SlippageBase:    0.0005,
		SlippageRange:   0.0003,
		PositionSize:    1000,
		InitialCapital:  10000,
		MaxHoldingHours: 72,
		CooldownHours:   4,
		AntiJitter:      true,
		LookbackBars:    200,
		Seed:            42,
		ExitLabels:      DefaultExitLabels(),
	}
}

// Validate rejects settings that would make a run meaningless.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

	switch {
	case c.MaxEntryBars < 1:
		return bad("max_entry_bars must be >= 1, got %d", c.MaxEntryBars)
	case !finite(c.FeeRate) || c.FeeRate < 0:
		return bad("fee_rate must be >= 0, got %v", c.FeeRate)
	case !finite(c.SlippageBase) || c.SlippageBase < 0:
		return bad("slippage_base must be >= 0, got %v", c.SlippageBase)
	case !finite(c.SlippageRange) || c.SlippageRange < 0:
		return bad("slippage_range must be >= 0, got %v", c.SlippageRange)
	case c.SlippageBase+c.SlippageRange >= 1:
		return bad("slippage_base + slippage_range must be < 1")
	case !finite(c.PositionSize) || c.PositionSize <= 0:
		return bad("position_size must be > 0, got %v", c.PositionSize)
	case !finite(c.InitialCapital) || c.InitialCapital < 0:
		return bad("initial_capital must be >= 0, got %v", c.InitialCapital)
	case !finite(c.MaxHoldingHours) || c.MaxHoldingHours <= 0:
		return bad("max_holding_hours must be > 0, got %v", c.MaxHoldingHours)
	case !finite(c.CooldownHours) || c.CooldownHours < 0:
		return bad("cooldown_hours must be >= 0, got %v", c.CooldownHours)
	case c.MaxOpenPositions < 0:
		return bad("max_open_positions must be >= 0, got %d", c.MaxOpenPositions)
	case c.LookbackBars < 1:
		return bad("lookback_bars must be >= 1, got %d", c.LookbackBars)
	}
	return nil
}

// label returns the display label for reason.
func (c Config) label(reason models.ExitReason) string {
	if l, ok := c.ExitLabels[reason]; ok && l != "" {
		return l
	}
	return string(reason)
}
