package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/seenimoa/signalsim/pkg/models"
)

// resolveExit evaluates an active position against one bar.
//
// Stop and targets are checked against the bar's range. When both a stop and
// a target trade inside the same bar the stop wins; between the two targets
// target 2 wins. A position held longer than maxHoldingMS is closed at the
// bar midpoint.
func resolveExit(s *models.Signal, bar models.OHLCV, ts, maxHoldingMS int64) (models.ExitReason, float64, bool) {
	var stopHit, t1Hit, t2Hit bool
	if s.Side == models.Long {
		stopHit = bar.Low <= s.ActualStopPrice
		t1Hit = bar.High >= s.ActualTarget1Price
		t2Hit = bar.High >= s.ActualTarget2Price
	} else {
		stopHit = bar.High >= s.ActualStopPrice
		t1Hit = bar.Low <= s.ActualTarget1Price
		t2Hit = bar.Low <= s.ActualTarget2Price
	}

	switch {
	case stopHit:
		return models.ExitStopLoss, s.ActualStopPrice, true
	case t2Hit:
		return models.ExitTarget2, s.ActualTarget2Price, true
	case t1Hit:
		return models.ExitTarget1, s.ActualTarget1Price, true
	}

	if s.EntryFilledTS != nil && ts-*s.EntryFilledTS > maxHoldingMS {
		return models.ExitTimeout, bar.Mid(), true
	}
	return "", 0, false
}

var hundred = decimal.NewFromInt(100)

// settlement is the accounting outcome of closing a position.
type settlement struct {
	PnLPct    float64 // gross, before fees
	NetPnLPct float64 // net of fees, relative to position size
	PnLAmount float64 // net, in quote currency
	ExitFee   float64
	FeesPaid  float64 // entry + exit
}

// settle computes P&L for a position of size closed at exit. Currency
// amounts are computed in decimal so fee and P&L sums do not drift.
func settle(side models.Side, entry, exit, size, feeRate, entryFees float64) settlement {
	dEntry := decimal.NewFromFloat(entry)
	dExit := decimal.NewFromFloat(exit)
	dSize := decimal.NewFromFloat(size)

	move := dExit.Sub(dEntry)
	if side == models.Short {
		move = dEntry.Sub(dExit)
	}
	ret := move.Div(dEntry)

	exitFee := dSize.Mul(decimal.NewFromFloat(feeRate))
	fees := decimal.NewFromFloat(entryFees).Add(exitFee)
	net := dSize.Mul(ret).Sub(fees)

	return settlement{
		PnLPct:    ret.Mul(hundred).InexactFloat64(),
		NetPnLPct: net.Div(dSize).Mul(hundred).InexactFloat64(),
		PnLAmount: net.InexactFloat64(),
		ExitFee:   exitFee.InexactFloat64(),
		FeesPaid:  fees.InexactFloat64(),
	}
}

// markToMarket returns the unrealized net P&L of an open position at price,
// including the entry fee already paid.
func markToMarket(s *models.Signal, price, size float64) float64 {
	if s.ActualEntryPrice == nil || *s.ActualEntryPrice <= 0 {
		return 0
	}
	entry := *s.ActualEntryPrice
	move := price - entry
	if s.Side == models.Short {
		move = entry - price
	}
	return size*move/entry - s.FeesPaid
}
