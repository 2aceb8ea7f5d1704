// Package metrics computes performance statistics over the terminal signal
// list and equity trace of a backtest run. Every function is pure: inputs
// are never modified, so a report can be recomputed at will.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/seenimoa/signalsim/pkg/models"
)

// ErrBadBins is returned when histogram edges are not strictly increasing.
var ErrBadBins = errors.New("histogram edges must be finite and strictly increasing")

// Options controls report computation.
type Options struct {
	PnLBins        []float64 // PnL % bucket edges
	HoldingBins    []float64 // holding-hours bucket edges
	Annualization  float64   // periods per year for Sharpe/Sortino (default: 252)
	InitialCapital float64   // base of the fallback equity curve (default: 10000)
}

// DefaultOptions returns the default bins and annualization.
func DefaultOptions() Options {
	return Options{
		PnLBins:        []float64{-10, -5, -2, 0, 2, 5, 10},
		HoldingBins:    []float64{1, 4, 12, 24, 48, 72},
		Annualization:  252,
		InitialCapital: 10000,
	}
}

// Validate checks the bin edges and scalars.
func (o Options) Validate() error {
	for name, edges := range map[string][]float64{"pnl_bins": o.PnLBins, "holding_bins": o.HoldingBins} {
		if err := checkEdges(edges); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if o.Annualization <= 0 || math.IsInf(o.Annualization, 0) || math.IsNaN(o.Annualization) {
		return fmt.Errorf("annualization must be > 0, got %v", o.Annualization)
	}
	if o.InitialCapital < 0 {
		return fmt.Errorf("initial_capital must be >= 0, got %v", o.InitialCapital)
	}
	return nil
}

func checkEdges(edges []float64) error {
	for i, e := range edges {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return ErrBadBins
		}
		if i > 0 && e <= edges[i-1] {
			return ErrBadBins
		}
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Report
// ════════════════════════════════════════════════════════════════════

// Report holds the three metric tiers.
type Report struct {
	Signals      SignalStats    `json:"signals"`
	Portfolio    PortfolioStats `json:"portfolio"`
	Distribution Distribution   `json:"distribution"`
}

// SignalStats are per-trade statistics over filled and closed signals.
type SignalStats struct {
	Total              int                       `json:"total"`
	Traded             int                       `json:"traded"`
	NotFilled          int                       `json:"not_filled"`
	Wins               int                       `json:"wins"`
	Losses             int                       `json:"losses"`
	Breakeven          int                       `json:"breakeven"`
	WinRate            float64                   `json:"win_rate"` // percent of traded
	MeanPnLPct         float64                   `json:"mean_pnl_pct"`
	MedianPnLPct       float64                   `json:"median_pnl_pct"`
	MinPnLPct          float64                   `json:"min_pnl_pct"`
	MaxPnLPct          float64                   `json:"max_pnl_pct"`
	StdevPnLPct        float64                   `json:"stdev_pnl_pct"`
	AvgRewardRisk      float64                   `json:"avg_reward_risk"`
	LongestWinStreak   int                       `json:"longest_win_streak"`
	LongestLossStreak  int                       `json:"longest_loss_streak"`
	MeanHoldingHours   float64                   `json:"mean_holding_hours"`
	MedianHoldingHours float64                   `json:"median_holding_hours"`
	ExitReasons        map[models.ExitReason]int `json:"exit_reasons"`
}

// PortfolioStats are risk and activity measures across all trades.
type PortfolioStats struct {
	Sharpe         models.Number `json:"sharpe"`
	Sortino        models.Number `json:"sortino"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	MaxConcurrent  int           `json:"max_concurrent"`
	TradesPerDay   float64       `json:"trades_per_day"`
	ProfitFactor   models.Number `json:"profit_factor"`
	NetPnL         float64       `json:"net_pnl"`
	TotalFees      float64       `json:"total_fees"`
}

// Distribution holds histograms and the per-side split.
type Distribution struct {
	PnL     Histogram   `json:"pnl_pct"`
	Holding Histogram   `json:"holding_hours"`
	BySide  []SideStats `json:"by_side"`
}

// SideStats summarises trades of one side.
type SideStats struct {
	Side       models.Side `json:"side"`
	Trades     int         `json:"trades"`
	WinRate    float64     `json:"win_rate"`
	MeanPnLPct float64     `json:"mean_pnl_pct"`
}

// Compute builds the full report. Only traded signals feed the statistics;
// signals that never filled are counted in NotFilled and nowhere else.
func Compute(signals []models.Signal, equity []models.EquityPoint, opts Options) (Report, error) {
	if err := opts.Validate(); err != nil {
		return Report{}, err
	}

	traded := Traded(signals)
	returns := pnlPcts(traded)

	var rep Report
	rep.Signals = signalStats(signals, traded)
	rep.Portfolio = PortfolioStats{
		Sharpe:         models.Number(Sharpe(returns, opts.Annualization)),
		Sortino:        models.Number(Sortino(returns, opts.Annualization)),
		MaxDrawdownPct: drawdownFor(traded, equity, opts.InitialCapital),
		MaxConcurrent:  MaxConcurrent(Intervals(traded)),
		TradesPerDay:   TradesPerDay(traded),
		ProfitFactor:   models.Number(ProfitFactor(returns)),
	}
	for _, s := range traded {
		if s.PnLAmount != nil {
			rep.Portfolio.NetPnL += *s.PnLAmount
		}
		rep.Portfolio.TotalFees += s.FeesPaid
	}

	holding := make([]float64, 0, len(traded))
	for _, s := range traded {
		holding = append(holding, holdingHours(s))
	}
	rep.Distribution = Distribution{
		PnL:     NewHistogram(opts.PnLBins, returns),
		Holding: NewHistogram(opts.HoldingBins, holding),
		BySide:  bySide(traded),
	}
	return rep, nil
}

// Traded returns the filled and closed signals ordered by exit time.
func Traded(signals []models.Signal) []models.Signal {
	out := make([]models.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Traded() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].ExitTS < *out[j].ExitTS })
	return out
}

// ────────────────────────────────────────────────────────────────────
// Signal-level
// ────────────────────────────────────────────────────────────────────

func signalStats(all, traded []models.Signal) SignalStats {
	st := SignalStats{
		Total:       len(all),
		Traded:      len(traded),
		ExitReasons: make(map[models.ExitReason]int),
	}
	for _, s := range all {
		if s.ExitReason == models.ExitEntryNotFilled {
			st.NotFilled++
		}
		if s.ExitReason != "" {
			st.ExitReasons[s.ExitReason]++
		}
	}
	if len(traded) == 0 {
		return st
	}

	returns := pnlPcts(traded)
	holding := make([]float64, len(traded))
	var rr []float64
	for i, s := range traded {
		switch r := returns[i]; {
		case r > 0:
			st.Wins++
			if v, ok := rewardRisk(s); ok {
				rr = append(rr, v)
			}
		case r < 0:
			st.Losses++
		default:
			st.Breakeven++
		}
		holding[i] = holdingHours(s)
	}

	st.WinRate = float64(st.Wins) / float64(len(traded)) * 100
	st.MeanPnLPct = mean(returns)
	st.MedianPnLPct = median(returns)
	st.MinPnLPct, st.MaxPnLPct = minMax(returns)
	st.StdevPnLPct = stddev(returns)
	st.AvgRewardRisk = mean(rr)
	st.LongestWinStreak, st.LongestLossStreak = Streaks(returns)
	st.MeanHoldingHours = mean(holding)
	st.MedianHoldingHours = median(holding)
	return st
}

// rewardRisk is the realized move divided by the initial stop distance,
// both measured from the executed entry.
func rewardRisk(s models.Signal) (float64, bool) {
	if s.ActualEntryPrice == nil || s.ExitPrice == nil {
		return 0, false
	}
	entry := *s.ActualEntryPrice
	risk := math.Abs(entry - s.StopPrice)
	if risk == 0 {
		return 0, false
	}
	return math.Abs(*s.ExitPrice-entry) / risk, true
}

// Streaks returns the longest runs of consecutive wins and losses.
// A breakeven trade ends both.
func Streaks(returns []float64) (wins, losses int) {
	w, l := 0, 0
	for _, r := range returns {
		switch {
		case r > 0:
			w, l = w+1, 0
		case r < 0:
			w, l = 0, l+1
		default:
			w, l = 0, 0
		}
		wins = max(wins, w)
		losses = max(losses, l)
	}
	return wins, losses
}

// ────────────────────────────────────────────────────────────────────
// Portfolio-level
// ────────────────────────────────────────────────────────────────────

// Sharpe treats each return as one observation and annualizes with
// √periods. It is 0 with fewer than two returns or zero dispersion.
func Sharpe(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stddev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(periods)
}

// Sortino is Sharpe with the downside deviation, sqrt(Σ min(r,0)² / n), in
// the denominator. With no losing returns it is +Inf for a positive mean.
func Sortino(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sq float64
	for _, r := range returns {
		if r < 0 {
			sq += r * r
		}
	}
	m := mean(returns)
	dd := math.Sqrt(sq / float64(len(returns)))
	if dd == 0 {
		if m > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return m / dd * math.Sqrt(periods)
}

// MaxDrawdownPct is the largest peak-to-trough decline of curve as a
// percentage of the peak.
func MaxDrawdownPct(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0]
	maxDD := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			maxDD = max(maxDD, (peak-v)/peak*100)
		}
	}
	return maxDD
}

// drawdownFor uses the equity trace when present and otherwise a cumulative
// curve of net trade PnL on top of capital.
func drawdownFor(traded []models.Signal, equity []models.EquityPoint, capital float64) float64 {
	if len(equity) > 0 {
		curve := make([]float64, len(equity))
		for i, p := range equity {
			curve[i] = p.Equity
		}
		return MaxDrawdownPct(curve)
	}
	curve := make([]float64, 0, len(traded)+1)
	curve = append(curve, capital)
	v := capital
	for _, s := range traded {
		if s.PnLAmount != nil {
			v += *s.PnLAmount
		}
		curve = append(curve, v)
	}
	return MaxDrawdownPct(curve)
}

// Interval is a position's lifetime in epoch ms.
type Interval struct {
	Entry int64
	Exit  int64
}

// Intervals extracts entry/exit pairs from traded signals.
func Intervals(traded []models.Signal) []Interval {
	out := make([]Interval, 0, len(traded))
	for _, s := range traded {
		if s.EntryFilledTS == nil || s.ExitTS == nil {
			continue
		}
		out = append(out, Interval{Entry: *s.EntryFilledTS, Exit: *s.ExitTS})
	}
	return out
}

// MaxConcurrent sweeps +1 at entries and -1 at exits and returns the
// running maximum. At equal timestamps exits are applied first, so a
// position closing when another opens does not overlap it. A position
// opened and closed on the same bar is counted before its own exit.
func MaxConcurrent(intervals []Interval) int {
	// Order of events sharing a timestamp.
	const (
		rankExit = iota
		rankEntry
		rankSameBarExit
	)
	type event struct {
		ts    int64
		delta int
		rank  int
	}
	events := make([]event, 0, 2*len(intervals))
	for _, iv := range intervals {
		exit := rankExit
		if iv.Exit == iv.Entry {
			exit = rankSameBarExit
		}
		events = append(events, event{iv.Entry, +1, rankEntry}, event{iv.Exit, -1, exit})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].ts != events[j].ts {
			return events[i].ts < events[j].ts
		}
		return events[i].rank < events[j].rank
	})

	cur, best := 0, 0
	for _, e := range events {
		cur += e.delta
		best = max(best, cur)
	}
	return best
}

const dayMS = float64(24 * 60 * 60 * 1000)

// TradesPerDay is count / max(1, days from first entry to last exit).
func TradesPerDay(traded []models.Signal) float64 {
	ivs := Intervals(traded)
	if len(ivs) == 0 {
		return 0
	}
	first, last := ivs[0].Entry, ivs[0].Exit
	for _, iv := range ivs[1:] {
		first = min(first, iv.Entry)
		last = max(last, iv.Exit)
	}
	days := math.Max(1, float64(last-first)/dayMS)
	return float64(len(ivs)) / days
}

// ProfitFactor is Σ winning returns / |Σ losing returns|; +Inf when there
// are winners and no losers, 0 with no winners.
func ProfitFactor(returns []float64) float64 {
	var win, loss float64
	for _, r := range returns {
		if r > 0 {
			win += r
		} else if r < 0 {
			loss -= r
		}
	}
	switch {
	case loss > 0:
		return win / loss
	case win > 0:
		return math.Inf(1)
	}
	return 0
}

// ────────────────────────────────────────────────────────────────────
// Distribution-level
// ────────────────────────────────────────────────────────────────────

// Bucket is one histogram cell covering [Low, High).
type Bucket struct {
	Low   models.Number `json:"low"`
	High  models.Number `json:"high"`
	Count int           `json:"count"`
}

// Label renders the bucket range, e.g. "[-2, 0)".
func (b Bucket) Label() string {
	return fmt.Sprintf("[%s, %s)", edgeString(b.Low), edgeString(b.High))
}

func edgeString(n models.Number) string {
	f := float64(n)
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return fmt.Sprintf("%g", f)
}

// Histogram counts values into len(edges)+1 buckets: an open bucket below
// the first edge, [e_i, e_i+1) cells, and an open bucket at or above the
// last edge.
type Histogram struct {
	Edges   []float64 `json:"edges"`
	Buckets []Bucket  `json:"buckets"`
}

// NewHistogram buckets values by edges, which must be strictly increasing.
// NaN values are ignored.
func NewHistogram(edges []float64, values []float64) Histogram {
	h := Histogram{Edges: append([]float64(nil), edges...)}
	h.Buckets = make([]Bucket, len(edges)+1)
	for i := range h.Buckets {
		lo, hi := math.Inf(-1), math.Inf(1)
		if i > 0 {
			lo = edges[i-1]
		}
		if i < len(edges) {
			hi = edges[i]
		}
		h.Buckets[i] = Bucket{Low: models.Number(lo), High: models.Number(hi)}
	}
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		h.Buckets[bucketIndex(edges, v)].Count++
	}
	return h
}

// bucketIndex is the number of edges <= v.
func bucketIndex(edges []float64, v float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i] > v })
}

func bySide(traded []models.Signal) []SideStats {
	out := make([]SideStats, 0, 2)
	for _, side := range []models.Side{models.Long, models.Short} {
		st := SideStats{Side: side}
		var rets []float64
		wins := 0
		for _, s := range traded {
			if s.Side != side {
				continue
			}
			r := *s.PnLPct
			rets = append(rets, r)
			if r > 0 {
				wins++
			}
		}
		st.Trades = len(rets)
		if st.Trades > 0 {
			st.WinRate = float64(wins) / float64(st.Trades) * 100
			st.MeanPnLPct = mean(rets)
		}
		out = append(out, st)
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func pnlPcts(traded []models.Signal) []float64 {
	out := make([]float64, len(traded))
	for i, s := range traded {
		out[i] = *s.PnLPct
	}
	return out
}

func holdingHours(s models.Signal) float64 {
	if s.HoldingHours != nil {
		return *s.HoldingHours
	}
	if s.EntryFilledTS != nil && s.ExitTS != nil {
		return float64(*s.ExitTS-*s.EntryFilledTS) / (60 * 60 * 1000)
	}
	return 0
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func median(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	s := append([]float64(nil), data...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 0 {
		return (s[n/2-1] + s[n/2]) / 2
	}
	return s[n/2]
}

func minMax(data []float64) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi = data[0], data[0]
	for _, v := range data[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// stddev is the sample standard deviation.
func stddev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := mean(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)-1))
}
