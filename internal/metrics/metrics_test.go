package metrics

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/seenimoa/signalsim/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

const hourMS = int64(60 * 60 * 1000)

// trade builds a closed signal entered at entryH and exited at exitH hours.
func trade(side models.Side, entryH, exitH int64, pnlPct float64) models.Signal {
	entry := 100.0
	exit := entry * (1 + pnlPct/100)
	stop := 98.0
	if side == models.Short {
		exit = entry * (1 - pnlPct/100)
		stop = 102
	}
	amount := 1000 * pnlPct / 100
	return models.Signal{
		Side:             side,
		EntryPrice:       entry,
		StopPrice:        stop,
		EntryFilled:      true,
		EntryFilledTS:    models.Millis(entryH * hourMS),
		ActualEntryPrice: models.Float(entry),
		ExitTS:           models.Millis(exitH * hourMS),
		ExitPrice:        models.Float(exit),
		ExitReason:       models.ExitTarget1,
		PnLPct:           models.Float(pnlPct),
		PnLAmount:        models.Float(amount),
		HoldingHours:     models.Float(float64(exitH - entryH)),
	}
}

func unfilled(atH int64) models.Signal {
	return models.Signal{
		Side:       models.Long,
		EntryPrice: 100,
		StopPrice:  98,
		ExitTS:     models.Millis(atH * hourMS),
		ExitReason: models.ExitEntryNotFilled,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// ════════════════════════════════════════════════════════════════════
// Sweep-line
// ════════════════════════════════════════════════════════════════════

func TestMaxConcurrent(t *testing.T) {
	tests := []struct {
		name string
		ivs  []Interval
		want int
	}{
		{"empty", nil, 0},
		{"three overlapping", []Interval{{0, 5}, {2, 8}, {6, 10}}, 2},
		{"touching does not overlap", []Interval{{0, 5}, {5, 10}}, 1},
		{"nested", []Interval{{0, 10}, {1, 9}, {2, 8}}, 3},
		{"disjoint", []Interval{{0, 1}, {2, 3}, {4, 5}}, 1},
		{"same-bar trade inside an open one", []Interval{{0, 10}, {5, 5}}, 2},
		{"two same-bar trades together", []Interval{{3, 3}, {3, 3}}, 2},
		{"same-bar trade after a close", []Interval{{0, 5}, {5, 5}}, 1},
		{"lone same-bar trade", []Interval{{7, 7}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxConcurrent(tt.ivs); got != tt.want {
				t.Errorf("MaxConcurrent = %d, want %d", got, tt.want)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Risk measures
// ════════════════════════════════════════════════════════════════════

func TestSharpe(t *testing.T) {
	if got := Sharpe([]float64{1}, 252); got != 0 {
		t.Errorf("single return: %f, want 0", got)
	}
	if got := Sharpe([]float64{2, 2, 2}, 252); got != 0 {
		t.Errorf("zero dispersion: %f, want 0", got)
	}
	// mean 1, sample sd sqrt(2)
	got := Sharpe([]float64{2, 0, 2, 0}, 252)
	want := 1 / math.Sqrt(4.0/3.0) * math.Sqrt(252)
	if !approx(got, want) {
		t.Errorf("Sharpe = %f, want %f", got, want)
	}
}

func TestSortino(t *testing.T) {
	// mean 0.5, downside dev sqrt(4/4) = 1
	got := Sortino([]float64{3, -2, 1, 0}, 252)
	want := 0.5 * math.Sqrt(252)
	if !approx(got, want) {
		t.Errorf("Sortino = %f, want %f", got, want)
	}
	if got := Sortino([]float64{1, 2}, 252); !math.IsInf(got, 1) {
		t.Errorf("no downside with positive mean: %f, want +Inf", got)
	}
}

func TestMaxDrawdownPct(t *testing.T) {
	got := MaxDrawdownPct([]float64{100, 120, 90, 110, 130, 117})
	if !approx(got, 25) {
		t.Errorf("drawdown = %f, want 25", got)
	}
	if got := MaxDrawdownPct([]float64{1, 2, 3}); got != 0 {
		t.Errorf("rising curve drawdown = %f", got)
	}
}

func TestProfitFactor(t *testing.T) {
	if got := ProfitFactor([]float64{4, -2, 2, -1}); !approx(got, 2) {
		t.Errorf("ProfitFactor = %f, want 2", got)
	}
	if got := ProfitFactor([]float64{1, 3}); !math.IsInf(got, 1) {
		t.Errorf("no losses: %f, want +Inf", got)
	}
	if got := ProfitFactor(nil); got != 0 {
		t.Errorf("empty: %f, want 0", got)
	}
}

func TestStreaks(t *testing.T) {
	w, l := Streaks([]float64{1, 2, -1, 3, 4, 5, 0, -1, -2, -3, -4, 1})
	if w != 3 || l != 4 {
		t.Errorf("streaks = %d/%d, want 3/4", w, l)
	}
}

func TestTradesPerDay(t *testing.T) {
	short := []models.Signal{trade(models.Long, 0, 2, 1), trade(models.Long, 3, 5, 1)}
	if got := TradesPerDay(short); got != 2 {
		t.Errorf("under a day: %f, want 2", got)
	}
	long := []models.Signal{trade(models.Long, 0, 10, 1), trade(models.Long, 20, 48, 1)}
	if got := TradesPerDay(long); !approx(got, 1) {
		t.Errorf("two days: %f, want 1", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// Histograms
// ════════════════════════════════════════════════════════════════════

func TestHistogram_openBuckets(t *testing.T) {
	h := NewHistogram([]float64{-2, 0, 2}, []float64{-5, -2, -0.1, 0, 1.9, 2, 50, math.NaN()})
	want := []int{1, 2, 2, 2}
	if len(h.Buckets) != len(want) {
		t.Fatalf("buckets = %d, want %d", len(h.Buckets), len(want))
	}
	for i, c := range want {
		if h.Buckets[i].Count != c {
			t.Errorf("bucket %s = %d, want %d", h.Buckets[i].Label(), h.Buckets[i].Count, c)
		}
	}
	if h.Buckets[0].Label() != "[-inf, -2)" || h.Buckets[3].Label() != "[2, +inf)" {
		t.Errorf("labels = %q, %q", h.Buckets[0].Label(), h.Buckets[3].Label())
	}
	if _, err := json.Marshal(h); err != nil {
		t.Errorf("histogram with infinite bounds must marshal: %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	opts := DefaultOptions()
	opts.PnLBins = []float64{0, 0}
	if err := opts.Validate(); !errors.Is(err, ErrBadBins) {
		t.Errorf("expected ErrBadBins, got %v", err)
	}
	opts = DefaultOptions()
	opts.Annualization = 0
	if err := opts.Validate(); err == nil {
		t.Error("expected annualization error")
	}
}

// ════════════════════════════════════════════════════════════════════
// Full report
// ════════════════════════════════════════════════════════════════════

func TestCompute(t *testing.T) {
	signals := []models.Signal{
		trade(models.Long, 0, 5, 3),
		trade(models.Long, 2, 8, -2),
		trade(models.Short, 6, 10, 1),
		unfilled(3),
	}
	signals[1].ExitReason = models.ExitStopLoss

	rep, err := Compute(signals, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	s := rep.Signals
	if s.Total != 4 || s.Traded != 3 || s.NotFilled != 1 {
		t.Errorf("counts = %d/%d/%d", s.Total, s.Traded, s.NotFilled)
	}
	if s.Wins != 2 || s.Losses != 1 || !approx(s.WinRate, 200.0/3) {
		t.Errorf("wins=%d losses=%d rate=%f", s.Wins, s.Losses, s.WinRate)
	}
	if !approx(s.MeanPnLPct, 2.0/3) || s.MedianPnLPct != 1 || s.MinPnLPct != -2 || s.MaxPnLPct != 3 {
		t.Errorf("pnl stats = %+v", s)
	}
	if s.ExitReasons[models.ExitTarget1] != 2 || s.ExitReasons[models.ExitStopLoss] != 1 || s.ExitReasons[models.ExitEntryNotFilled] != 1 {
		t.Errorf("exit reasons = %v", s.ExitReasons)
	}
	// long +3% from 100 with stop 98 → 3/2; short +1% with stop 102 → 1/2
	if !approx(s.AvgRewardRisk, 1) {
		t.Errorf("AvgRewardRisk = %f, want 1", s.AvgRewardRisk)
	}
	if s.MeanHoldingHours != 5 || s.MedianHoldingHours != 5 {
		t.Errorf("holding = %f / %f", s.MeanHoldingHours, s.MedianHoldingHours)
	}

	p := rep.Portfolio
	if p.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", p.MaxConcurrent)
	}
	if !approx(float64(p.ProfitFactor), 2) {
		t.Errorf("ProfitFactor = %v, want 2", p.ProfitFactor)
	}
	if !approx(p.NetPnL, 20) {
		t.Errorf("NetPnL = %f, want 20", p.NetPnL)
	}
	// fallback curve 10000 → 10030 → 10010 → 10020
	if !approx(p.MaxDrawdownPct, 20.0/10030*100) {
		t.Errorf("MaxDrawdownPct = %f", p.MaxDrawdownPct)
	}

	d := rep.Distribution
	if len(d.PnL.Buckets) != 8 || len(d.Holding.Buckets) != 7 {
		t.Fatalf("bucket counts = %d/%d", len(d.PnL.Buckets), len(d.Holding.Buckets))
	}
	if len(d.BySide) != 2 || d.BySide[0].Trades != 2 || d.BySide[1].Trades != 1 || d.BySide[1].WinRate != 100 {
		t.Errorf("by side = %+v", d.BySide)
	}
}

func TestCompute_sameBarTradeCountsAsConcurrent(t *testing.T) {
	// second position fills and stops out inside bar 2 while the first is open
	signals := []models.Signal{
		trade(models.Long, 1, 4, 2),
		trade(models.Long, 2, 2, -1),
	}
	rep, err := Compute(signals, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Portfolio.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", rep.Portfolio.MaxConcurrent)
	}
}

func TestCompute_unfilledContributesNothing(t *testing.T) {
	base := []models.Signal{trade(models.Long, 0, 5, 3), trade(models.Long, 6, 9, -1)}
	with := append(append([]models.Signal(nil), base...), unfilled(1), unfilled(7))

	a, err := Compute(base, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute(with, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if a.Portfolio != b.Portfolio {
		t.Errorf("portfolio changed by unfilled signals:\n%+v\n%+v", a.Portfolio, b.Portfolio)
	}
	if b.Signals.NotFilled != 2 || b.Signals.Traded != 2 {
		t.Errorf("counts = %+v", b.Signals)
	}
}

func TestCompute_usesEquityTrace(t *testing.T) {
	equity := []models.EquityPoint{{TS: 0, Equity: 1000}, {TS: 1, Equity: 800}, {TS: 2, Equity: 1100}}
	rep, err := Compute([]models.Signal{trade(models.Long, 0, 1, 5)}, equity, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !approx(rep.Portfolio.MaxDrawdownPct, 20) {
		t.Errorf("MaxDrawdownPct = %f, want 20", rep.Portfolio.MaxDrawdownPct)
	}
}

func TestCompute_jsonSafe(t *testing.T) {
	rep, err := Compute([]models.Signal{trade(models.Long, 0, 1, 1), trade(models.Long, 2, 3, 2)}, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"profit_factor":"+Inf"`) {
		t.Errorf("expected +Inf profit factor in %s", b)
	}
}

func TestCompute_doesNotMutate(t *testing.T) {
	signals := []models.Signal{trade(models.Long, 5, 9, 1), trade(models.Long, 0, 4, -1)}
	first := *signals[0].ExitTS
	if _, err := Compute(signals, nil, DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	if *signals[0].ExitTS != first {
		t.Error("input order changed")
	}
}
