package signal

import (
	"context"
	"fmt"
	"strings"

	"github.com/seenimoa/signalsim/internal/indicator"
	"github.com/seenimoa/signalsim/pkg/models"
)

// Params tunes the built-in sources. Zero values fall back to defaults.
type Params struct {
	FastPeriod int     `mapstructure:"fast_period"  json:"fast_period,omitempty"`
	SlowPeriod int     `mapstructure:"slow_period"  json:"slow_period,omitempty"`
	Channel    int     `mapstructure:"channel"      json:"channel,omitempty"`
	ATRPeriod  int     `mapstructure:"atr_period"   json:"atr_period,omitempty"`
	ATRMult    float64 `mapstructure:"atr_mult"     json:"atr_mult,omitempty"`
	Reward1    float64 `mapstructure:"reward1"      json:"reward1,omitempty"`
	Reward2    float64 `mapstructure:"reward2"      json:"reward2,omitempty"`
	LongOnly   bool    `mapstructure:"long_only"    json:"long_only,omitempty"` // suppress short proposals

	RSIPeriod  int     `mapstructure:"rsi_period"  json:"rsi_period,omitempty"`
	Oversold   float64 `mapstructure:"oversold"    json:"oversold,omitempty"`
	Overbought float64 `mapstructure:"overbought"  json:"overbought,omitempty"`
	MACDFast   int     `mapstructure:"macd_fast"   json:"macd_fast,omitempty"`
	MACDSlow   int     `mapstructure:"macd_slow"   json:"macd_slow,omitempty"`
	MACDSignal int     `mapstructure:"macd_signal" json:"macd_signal,omitempty"`
}

// DefaultParams returns the defaults used by the built-in sources.
func DefaultParams() Params {
	return Params{
		FastPeriod: 20,
		SlowPeriod: 50,
		Channel:    20,
		ATRPeriod:  14,
		ATRMult:    1.5,
		Reward1:    1.5,
		Reward2:    3.0,
		RSIPeriod:  14,
		Oversold:   30,
		Overbought: 70,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.FastPeriod <= 0 {
		p.FastPeriod = d.FastPeriod
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = d.SlowPeriod
	}
	if p.Channel <= 0 {
		p.Channel = d.Channel
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = d.ATRPeriod
	}
	if p.ATRMult <= 0 {
		p.ATRMult = d.ATRMult
	}
	if p.Reward1 <= 0 {
		p.Reward1 = d.Reward1
	}
	if p.Reward2 < p.Reward1 {
		p.Reward2 = p.Reward1 * 2
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = d.RSIPeriod
	}
	if p.Oversold <= 0 || p.Oversold >= 100 {
		p.Oversold = d.Oversold
	}
	if p.Overbought <= p.Oversold || p.Overbought >= 100 {
		p.Oversold, p.Overbought = d.Oversold, d.Overbought
	}
	if p.MACDFast <= 0 {
		p.MACDFast = d.MACDFast
	}
	if p.MACDSlow <= p.MACDFast {
		p.MACDSlow = max(d.MACDSlow, p.MACDFast*2)
	}
	if p.MACDSignal <= 0 {
		p.MACDSignal = d.MACDSignal
	}
	return p
}

// New returns a built-in source by name: "sma_cross", "breakout",
// "rsi_reversion" or "macd_cross".
// The replay source needs a file and is built with LoadReplay instead.
func New(name string, params Params) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sma_cross", "sma":
		return NewSMACross(params), nil
	case "breakout", "donchian":
		return NewBreakout(params), nil
	case "rsi_reversion", "rsi":
		return NewRSIReversion(params), nil
	case "macd_cross", "macd":
		return NewMACDCross(params), nil
	default:
		return nil, fmt.Errorf("unknown signal source %q", name)
	}
}

// ────────────────────────────────────────────────────────────────────
// SMA crossover
// ────────────────────────────────────────────────────────────────────

// SMACross proposes a long when the fast SMA crosses above the slow SMA on
// the latest bar and a short on the opposite cross. The stop is an ATR
// multiple away from the close; targets are reward multiples of that risk.
type SMACross struct {
	p Params
}

// NewSMACross creates an SMA crossover source.
func NewSMACross(p Params) *SMACross {
	return &SMACross{p: p.withDefaults()}
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) Propose(_ context.Context, _ string, window []models.OHLCV) (*Proposal, error) {
	need := s.p.SlowPeriod + 1
	if s.p.ATRPeriod+1 > need {
		need = s.p.ATRPeriod + 1
	}
	if len(window) < need {
		return nil, nil
	}

	closes := indicator.Closes(window)
	fast := indicator.SMA(closes, s.p.FastPeriod)
	slow := indicator.SMA(closes, s.p.SlowPeriod)
	atr := indicator.ATR(window, s.p.ATRPeriod)
	if fast == nil || slow == nil || atr == nil {
		return nil, nil
	}

	i := len(window) - 1
	var side models.Side
	switch {
	case fast[i-1] <= slow[i-1] && fast[i] > slow[i]:
		side = models.Long
	case fast[i-1] >= slow[i-1] && fast[i] < slow[i] && !s.p.LongOnly:
		side = models.Short
	default:
		return nil, nil
	}

	risk := atr[i] * s.p.ATRMult
	if risk <= 0 {
		return nil, nil
	}
	p := planFromRisk(side, window[i].Close, risk, s.p.Reward1, s.p.Reward2)
	p.Metadata = map[string]any{
		"fast_sma": fast[i],
		"slow_sma": slow[i],
		"atr":      atr[i],
	}
	return p, nil
}

// ────────────────────────────────────────────────────────────────────
// Donchian breakout
// ────────────────────────────────────────────────────────────────────

// Breakout proposes a long when the latest close clears the highest high of
// the preceding channel and a short when it breaks the lowest low.
type Breakout struct {
	p Params
}

// NewBreakout creates a channel breakout source.
func NewBreakout(p Params) *Breakout {
	return &Breakout{p: p.withDefaults()}
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) Propose(_ context.Context, _ string, window []models.OHLCV) (*Proposal, error) {
	need := b.p.Channel + 1
	if b.p.ATRPeriod+1 > need {
		need = b.p.ATRPeriod + 1
	}
	if len(window) < need {
		return nil, nil
	}

	i := len(window) - 1
	channel := window[i-b.p.Channel : i]
	hi, lo := indicator.Highest(channel), indicator.Lowest(channel)
	atr := indicator.ATR(window, b.p.ATRPeriod)
	if atr == nil || atr[i] <= 0 {
		return nil, nil
	}

	last := window[i].Close
	var side models.Side
	switch {
	case last > hi:
		side = models.Long
	case last < lo && !b.p.LongOnly:
		side = models.Short
	default:
		return nil, nil
	}

	p := planFromRisk(side, last, atr[i]*b.p.ATRMult, b.p.Reward1, b.p.Reward2)
	p.Metadata = map[string]any{
		"channel_high": hi,
		"channel_low":  lo,
		"atr":          atr[i],
	}
	return p, nil
}
