// Package backtest provides a discrete-time backtesting engine that replays
// a signal source over pre-fetched OHLCV series with realistic simulation of
// delayed entry fills, slippage, fees, concurrent positions and exit
// resolution.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/signalsim/internal/series"
	"github.com/seenimoa/signalsim/internal/signal"
	"github.com/seenimoa/signalsim/pkg/models"
)

// PriceFeed exposes pre-fetched bars by symbol and bar open time (epoch ms).
// Implementations must not block; the loop calls them on every step.
type PriceFeed interface {
	Bar(symbol string, ts int64) (models.OHLCV, bool)
	Window(symbol string, ts int64, n int) []models.OHLCV
	LastAtOrBefore(symbol string, ts int64) (models.OHLCV, bool)
}

// RunRequest describes one backtest run. Symbols are processed in the given
// order on every step; that order decides which symbol wins when several
// compete for the open-position cap.
type RunRequest struct {
	Symbols  []string
	StartTS  int64  // epoch ms, inclusive
	EndTS    int64  // epoch ms, inclusive
	Interval string // e.g. "1h"
	Feed     PriceFeed
	Source   signal.Source
	RunID    string // generated when empty
}

// StepEvent is reported to an observer after every simulated step.
type StepEvent struct {
	Step   int                `json:"step"`
	Total  int                `json:"total"`
	Point  models.EquityPoint `json:"point"`
	Filled int                `json:"filled"`
	Closed int                `json:"closed"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRand injects the slippage generator. It is shared by every run of the
// engine; without it each run seeds a fresh generator from Config.Seed.
func WithRand(r RandSource) Option {
	return func(e *Engine) { e.rng = r }
}

// WithObserver registers a callback invoked after every step.
func WithObserver(fn func(StepEvent)) Option {
	return func(e *Engine) { e.observer = fn }
}

// ════════════════════════════════════════════════════════════════════
// Engine
// ════════════════════════════════════════════════════════════════════

// Engine runs signal sources against historical data step by step.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	rng      RandSource
	observer func(StepEvent)
	mu       sync.Mutex
}

// NewEngine validates cfg and creates an engine. Configuration errors are
// returned immediately rather than surfacing mid-run.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ExitLabels == nil {
		cfg.ExitLabels = DefaultExitLabels()
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run simulates req from start to end inclusive and returns every signal in
// a terminal state. The run polls ctx once per step; on cancellation it stops
// early, force-closes what is open and returns the partial result with
// Meta.Cancelled set.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	step, err := series.ParseInterval(req.Interval)
	if err != nil {
		return nil, err
	}
	if step < time.Millisecond {
		return nil, fmt.Errorf("%w: %q is below millisecond resolution", series.ErrBadInterval, req.Interval)
	}

	rng := e.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(e.cfg.Seed))
	}

	r := newRun(e.cfg, req, step, rng, e.log)
	started := time.Now()
	total := int((req.EndTS-req.StartTS)/r.stepMS) + 1

	e.log.Info("backtest started",
		"run_id", r.meta.RunID,
		"source", req.Source.Name(),
		"symbols", len(req.Symbols),
		"interval", req.Interval,
		"steps", total,
	)

	last := req.StartTS
	for ts := req.StartTS; ts <= req.EndTS; ts += r.stepMS {
		if ctx.Err() != nil {
			r.meta.Cancelled = true
			e.log.Warn("backtest cancelled", "run_id", r.meta.RunID, "at", ts, "err", ctx.Err())
			break
		}
		last = ts

		filled := r.fillPending(ts)
		r.ingestAll(ctx, ts)
		closed := r.advancePositions(ts)
		point := r.snapshot(ts)
		r.meta.Iterations++

		if e.observer != nil {
			e.observer(StepEvent{Step: r.meta.Iterations, Total: total, Point: point, Filled: filled, Closed: closed})
		}
	}

	r.finish(last)
	r.meta.ElapsedMS = time.Since(started).Milliseconds()

	res := r.result()
	e.log.Info("backtest finished",
		"run_id", r.meta.RunID,
		"iterations", r.meta.Iterations,
		"proposed", r.meta.Proposed,
		"filled", r.meta.Filled,
		"not_filled", r.meta.NotFilled,
		"rejected", r.meta.Rejected,
		"source_errors", r.meta.SourceErrors,
		"elapsed_ms", r.meta.ElapsedMS,
	)
	return res, nil
}

func validateRequest(req RunRequest) error {
	switch {
	case len(req.Symbols) == 0:
		return errors.New("no symbols to backtest")
	case req.Feed == nil:
		return errors.New("price feed is nil")
	case req.Source == nil:
		return errors.New("signal source is nil")
	case req.EndTS < req.StartTS:
		return fmt.Errorf("end %d is before start %d", req.EndTS, req.StartTS)
	}
	seen := make(map[string]bool, len(req.Symbols))
	for _, s := range req.Symbols {
		if s == "" {
			return errors.New("empty symbol")
		}
		if seen[s] {
			return fmt.Errorf("duplicate symbol %s", s)
		}
		seen[s] = true
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Run state
// ════════════════════════════════════════════════════════════════════

// run is the state of a single simulation. It is owned by the loop goroutine.
type run struct {
	cfg    Config
	req    RunRequest
	stepMS int64
	log    *slog.Logger

	slip     Slippage
	cooldown *Cooldown
	book     orderBook
	active   []*models.Signal

	signals    []*models.Signal // every accepted proposal, in proposal order
	rejections []Rejection
	equity     []models.EquityPoint
	realized   float64

	withData    map[string]bool
	withSignals map[string]bool
	meta        RunMeta
}

func newRun(cfg Config, req RunRequest, step time.Duration, rng RandSource, log *slog.Logger) *run {
	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}
	return &run{
		cfg:         cfg,
		req:         req,
		stepMS:      step.Milliseconds(),
		log:         log,
		slip:        NewSlippage(cfg.SlippageBase, cfg.SlippageRange, rng),
		cooldown:    NewCooldown(time.Duration(cfg.CooldownHours*float64(time.Hour)), cfg.AntiJitter),
		withData:    make(map[string]bool),
		withSignals: make(map[string]bool),
		meta: RunMeta{
			RunID:    id,
			Source:   req.Source.Name(),
			Interval: req.Interval,
			StartTS:  req.StartTS,
			EndTS:    req.EndTS,
			Symbols:  len(req.Symbols),
			Seed:     cfg.Seed,
			Skips:    make(map[SkipReason]int),
		},
	}
}

// ────────────────────────────────────────────────────────────────────
// (1) Pending order fills
// ────────────────────────────────────────────────────────────────────

func (r *run) fillPending(ts int64) int {
	filled := 0
	r.book.process(func(o *models.Signal) fillAction {
		bar, ok := r.req.Feed.Bar(o.Symbol, ts)
		if !ok && ts >= o.EntryEligibleFromTS {
			r.meta.MissingBarChecks++
		}
		action := fillDecision(o, bar, ok, ts, r.stepMS, r.cfg.MaxEntryBars)
		switch action {
		case actionFill:
			r.fill(o, ts)
			filled++
		case actionExpire:
			r.expire(o, ts)
		}
		return action
	})
	return filled
}

func (r *run) fill(o *models.Signal, ts int64) {
	price := r.slip.Apply(o.Side, o.EntryPrice)
	o.EntryFilled = true
	o.EntryFilledTS = models.Millis(ts)
	o.ActualEntryPrice = models.Float(price)
	o.FeesPaid += r.cfg.PositionSize * r.cfg.FeeRate
	r.active = append(r.active, o)
	r.meta.Filled++

	r.log.Debug("entry filled", "id", o.ID, "symbol", o.Symbol, "side", o.Side,
		"recommended", o.EntryPrice, "actual", price, "ts", ts)
}

func (r *run) expire(o *models.Signal, ts int64) {
	o.ExitTS = models.Millis(ts)
	o.ExitReason = models.ExitEntryNotFilled
	o.ExitLabel = r.cfg.label(models.ExitEntryNotFilled)
	r.meta.NotFilled++

	r.log.Debug("entry expired", "id", o.ID, "symbol", o.Symbol, "ts", ts)
}

// ────────────────────────────────────────────────────────────────────
// (2) Signal ingestion
// ────────────────────────────────────────────────────────────────────

// SkipReason explains why a symbol produced no new order on a step.
type SkipReason string

const (
	SkipCooldown      SkipReason = "cooldown"
	SkipNoBar         SkipReason = "no_bar"
	SkipPositionLimit SkipReason = "position_limit"
	SkipNoProposal    SkipReason = "no_proposal"
	SkipSourceError   SkipReason = "source_error"
	SkipInvalid       SkipReason = "invalid_proposal"
)

// ingestOutcome is the result of asking the source about one symbol on one
// step: either an accepted signal or a skip with its reason.
type ingestOutcome struct {
	signal *models.Signal
	skip   SkipReason
	err    error
}

func (r *run) ingestAll(ctx context.Context, ts int64) {
	for _, sym := range r.req.Symbols {
		out := r.ingest(ctx, sym, ts)
		if out.signal != nil {
			r.book.add(out.signal)
			r.signals = append(r.signals, out.signal)
			r.withSignals[sym] = true
			r.meta.Proposed++
			continue
		}

		r.meta.Skips[out.skip]++
		switch out.skip {
		case SkipSourceError:
			r.meta.SourceErrors++
			r.log.Warn("signal source failed", "symbol", sym, "ts", ts, "err", out.err)
		case SkipInvalid:
			r.meta.Rejected++
			r.rejections = append(r.rejections, newRejection(sym, ts, out.err))
			r.log.Warn("proposal rejected", "symbol", sym, "ts", ts, "err", out.err)
		}
	}
}

func (r *run) ingest(ctx context.Context, sym string, ts int64) ingestOutcome {
	if !r.cooldown.Ready(sym, ts) {
		return ingestOutcome{skip: SkipCooldown}
	}
	if _, ok := r.req.Feed.Bar(sym, ts); !ok {
		return ingestOutcome{skip: SkipNoBar}
	}
	r.withData[sym] = true

	if limit := r.cfg.MaxOpenPositions; limit > 0 && len(r.active)+r.book.Len() >= limit {
		return ingestOutcome{skip: SkipPositionLimit}
	}

	window := r.req.Feed.Window(sym, ts, r.cfg.LookbackBars)
	p, err := callSource(ctx, r.req.Source, sym, window)
	switch {
	case errors.Is(err, signal.ErrInvalidProposal):
		r.cooldown.Mark(sym, ts)
		return ingestOutcome{skip: SkipInvalid, err: err}
	case err != nil:
		return ingestOutcome{skip: SkipSourceError, err: err}
	case p == nil:
		return ingestOutcome{skip: SkipNoProposal}
	}

	r.cooldown.Mark(sym, ts)
	if err := p.Validate(sym); err != nil {
		return ingestOutcome{skip: SkipInvalid, err: err}
	}
	return ingestOutcome{signal: r.newSignal(sym, ts, p)}
}

// callSource invokes the source, converting a panic into an error so one
// misbehaving symbol cannot abort the run.
func callSource(ctx context.Context, src signal.Source, sym string, window []models.OHLCV) (p *signal.Proposal, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("signal source %s panicked: %v", src.Name(), rec)
		}
	}()
	return src.Propose(ctx, sym, window)
}

var signalNamespace = uuid.MustParse("6f1c7a52-3c1e-4d55-9a8e-0b1f3f9d2c41")

// SignalID derives a stable identifier from the proposal identity.
func SignalID(symbol string, side models.Side, ts int64) string {
	return uuid.NewSHA1(signalNamespace, []byte(fmt.Sprintf("%s|%s|%d", symbol, side, ts))).String()
}

func (r *run) newSignal(sym string, ts int64, p *signal.Proposal) *models.Signal {
	return &models.Signal{
		ID:                  SignalID(sym, p.Side, ts),
		Symbol:              sym,
		Side:                p.Side,
		ProposedTS:          ts,
		Source:              r.req.Source.Name(),
		EntryPrice:          p.Entry,
		StopPrice:           p.Stop,
		Target1Price:        p.Target1,
		Target2Price:        p.Target2,
		EntryEligibleFromTS: ts + r.stepMS,
		ActualStopPrice:     p.Stop,
		ActualTarget1Price:  p.Target1,
		ActualTarget2Price:  p.Target2,
		Metadata:            p.Metadata,
	}
}

// ────────────────────────────────────────────────────────────────────
// (3) Position ledger
// ────────────────────────────────────────────────────────────────────

func (r *run) advancePositions(ts int64) int {
	maxHold := int64(r.cfg.MaxHoldingHours * float64(time.Hour/time.Millisecond))
	closed := 0
	remaining := r.active[:0]
	for _, s := range r.active {
		bar, ok := r.req.Feed.Bar(s.Symbol, ts)
		if !ok {
			r.meta.MissingBarChecks++
			remaining = append(remaining, s)
			continue
		}
		reason, price, hit := resolveExit(s, bar, ts, maxHold)
		if !hit {
			remaining = append(remaining, s)
			continue
		}
		r.close(s, ts, price, reason)
		closed++
	}
	for i := len(remaining); i < len(r.active); i++ {
		r.active[i] = nil
	}
	r.active = remaining
	return closed
}

// close settles a position. It is the only place exit fields are written
// for filled signals, and it runs once per signal.
func (r *run) close(s *models.Signal, ts int64, price float64, reason models.ExitReason) {
	st := settle(s.Side, *s.ActualEntryPrice, price, r.cfg.PositionSize, r.cfg.FeeRate, s.FeesPaid)

	s.ExitTS = models.Millis(ts)
	s.ExitPrice = models.Float(price)
	s.ExitReason = reason
	s.ExitLabel = r.cfg.label(reason)
	s.FeesPaid = st.FeesPaid
	s.PnLPct = models.Float(st.PnLPct)
	s.NetPnLPct = models.Float(st.NetPnLPct)
	s.PnLAmount = models.Float(st.PnLAmount)
	s.HoldingHours = models.Float(float64(ts-*s.EntryFilledTS) / float64(time.Hour/time.Millisecond))

	r.realized += st.PnLAmount
	r.meta.Closed++

	r.log.Debug("position closed", "id", s.ID, "symbol", s.Symbol, "reason", reason,
		"exit", price, "pnl_pct", st.PnLPct, "pnl", st.PnLAmount)
}

// ────────────────────────────────────────────────────────────────────
// (4) Snapshots and run end
// ────────────────────────────────────────────────────────────────────

func (r *run) snapshot(ts int64) models.EquityPoint {
	unrealized := 0.0
	for _, s := range r.active {
		bar, ok := r.req.Feed.LastAtOrBefore(s.Symbol, ts)
		if !ok {
			continue
		}
		unrealized += markToMarket(s, bar.Close, r.cfg.PositionSize)
	}
	p := models.EquityPoint{
		TS:       ts,
		Equity:   r.cfg.InitialCapital + r.realized + unrealized,
		Realized: r.realized,
		Open:     len(r.active),
		Pending:  r.book.Len(),
	}
	r.equity = append(r.equity, p)
	return p
}

// finish drives every remaining entity to a terminal state: pending orders
// expire and active positions close at the last available price.
func (r *run) finish(last int64) {
	for _, o := range r.book.drain() {
		r.expire(o, last)
	}
	for _, s := range r.active {
		price := *s.ActualEntryPrice
		if bar, ok := r.req.Feed.LastAtOrBefore(s.Symbol, last); ok {
			price = bar.Close
		}
		r.close(s, last, price, models.ExitForcedClose)
		r.meta.ForcedClosed++
	}
	r.active = nil

	if n := len(r.equity); n > 0 && r.equity[n-1].TS == last {
		r.equity = r.equity[:n-1]
		r.snapshot(last)
	}
}

func (r *run) result() *Result {
	r.meta.SymbolsWithData = len(r.withData)
	r.meta.SymbolsWithSignals = len(r.withSignals)

	signals := make([]models.Signal, len(r.signals))
	for i, s := range r.signals {
		signals[i] = *s
	}
	return &Result{
		Meta:       r.meta,
		Signals:    signals,
		Rejections: r.rejections,
		Equity:     r.equity,
	}
}
