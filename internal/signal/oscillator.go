package signal

import (
	"context"

	"github.com/seenimoa/signalsim/internal/indicator"
	"github.com/seenimoa/signalsim/pkg/models"
)

// ────────────────────────────────────────────────────────────────────
// RSI mean reversion
// ────────────────────────────────────────────────────────────────────

// RSIReversion proposes a long when RSI climbs back above the oversold
// level and a short when it falls back below the overbought level.
type RSIReversion struct {
	p Params
}

// NewRSIReversion creates an RSI mean-reversion source.
func NewRSIReversion(p Params) *RSIReversion {
	return &RSIReversion{p: p.withDefaults()}
}

func (s *RSIReversion) Name() string { return "rsi_reversion" }

func (s *RSIReversion) Propose(_ context.Context, _ string, window []models.OHLCV) (*Proposal, error) {
	need := max(s.p.RSIPeriod+2, s.p.ATRPeriod+1)
	if len(window) < need {
		return nil, nil
	}

	rsi := indicator.RSI(indicator.Closes(window), s.p.RSIPeriod)
	atr := indicator.ATR(window, s.p.ATRPeriod)
	if rsi == nil || atr == nil {
		return nil, nil
	}

	i := len(window) - 1
	var side models.Side
	switch {
	case rsi[i-1] <= s.p.Oversold && rsi[i] > s.p.Oversold:
		side = models.Long
	case rsi[i-1] >= s.p.Overbought && rsi[i] < s.p.Overbought && !s.p.LongOnly:
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
		"rsi":      rsi[i],
		"prev_rsi": rsi[i-1],
		"atr":      atr[i],
	}
	return p, nil
}

// ────────────────────────────────────────────────────────────────────
// MACD crossover
// ────────────────────────────────────────────────────────────────────

// MACDCross proposes on MACD line / signal line crossovers.
type MACDCross struct {
	p Params
}

// NewMACDCross creates a MACD crossover source.
func NewMACDCross(p Params) *MACDCross {
	return &MACDCross{p: p.withDefaults()}
}

func (s *MACDCross) Name() string { return "macd_cross" }

func (s *MACDCross) Propose(_ context.Context, _ string, window []models.OHLCV) (*Proposal, error) {
	// one bar more than the first signal value so the previous bar is valid
	need := max(s.p.MACDSlow+s.p.MACDSignal, s.p.ATRPeriod+1)
	if len(window) < need {
		return nil, nil
	}

	line, sig := indicator.MACD(indicator.Closes(window), s.p.MACDFast, s.p.MACDSlow, s.p.MACDSignal)
	atr := indicator.ATR(window, s.p.ATRPeriod)
	if line == nil || atr == nil {
		return nil, nil
	}

	i := len(window) - 1
	var side models.Side
	switch {
	case line[i-1] <= sig[i-1] && line[i] > sig[i]:
		side = models.Long
	case line[i-1] >= sig[i-1] && line[i] < sig[i] && !s.p.LongOnly:
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
		"macd":      line[i],
		"signal":    sig[i],
		"histogram": line[i] - sig[i],
		"atr":       atr[i],
	}
	return p, nil
}
