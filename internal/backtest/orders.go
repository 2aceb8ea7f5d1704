package backtest

import "github.com/seenimoa/signalsim/pkg/models"

// fillAction is the single outcome of processing one pending order on one step.
type fillAction int

const (
	actionWait fillAction = iota
	actionFill
	actionExpire
)

// orderBook holds proposals waiting for their entry price to trade, in
// arrival order.
type orderBook struct {
	orders []*models.Signal
}

func (b *orderBook) Len() int { return len(b.orders) }

func (b *orderBook) add(s *models.Signal) {
	b.orders = append(b.orders, s)
}

// process applies fn to every order once and keeps only the ones still waiting.
func (b *orderBook) process(fn func(*models.Signal) fillAction) {
	remaining := b.orders[:0]
	for _, o := range b.orders {
		if fn(o) == actionWait {
			remaining = append(remaining, o)
		}
	}
	for i := len(remaining); i < len(b.orders); i++ {
		b.orders[i] = nil
	}
	b.orders = remaining
}

// drain removes and returns all waiting orders.
func (b *orderBook) drain() []*models.Signal {
	out := b.orders
	b.orders = nil
	return out
}

// fillDecision decides what happens to a pending order on the bar at ts.
// stepMS is the bar interval. The wait clock is time based: an order
// eligible from E is tried on E, E+step, ... and expires after the attempt
// at E+(maxBars-1)*step, whether or not bars were available. A missing bar
// does not pause the clock, so an order may expire on a step without a bar;
// a fill never lands later than maxBars steps after eligibility.
func fillDecision(o *models.Signal, bar models.OHLCV, haveBar bool, ts, stepMS int64, maxBars int) fillAction {
	if ts < o.EntryEligibleFromTS {
		return actionWait
	}
	if haveBar && bar.Contains(o.EntryPrice) {
		return actionFill
	}
	waited := (ts - o.EntryEligibleFromTS) / stepMS
	if waited+1 >= int64(maxBars) {
		return actionExpire
	}
	return actionWait
}
