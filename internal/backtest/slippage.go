package backtest

import "github.com/seenimoa/signalsim/pkg/models"

// RandSource supplies uniform draws in [0, 1). *math/rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// Slippage draws a fraction uniformly from [Base-Range, Base+Range] and
// moves the fill price against the trader.
type Slippage struct {
	Base  float64
	Range float64
	rng   RandSource
}

// NewSlippage creates a slippage model over rng.
func NewSlippage(base, spread float64, rng RandSource) Slippage {
	return Slippage{Base: base, Range: spread, rng: rng}
}

// Fraction draws one slippage fraction. With a zero range the generator is
// not consulted.
func (s Slippage) Fraction() float64 {
	if s.Range == 0 || s.rng == nil {
		return s.Base
	}
	return s.Base + (2*s.rng.Float64()-1)*s.Range
}

// Apply returns the executed entry price for a side. Buying (long entry)
// pays up; selling (short entry) receives less.
func (s Slippage) Apply(side models.Side, price float64) float64 {
	f := s.Fraction()
	if side == models.Short {
		return price * (1 - f)
	}
	return price * (1 + f)
}
