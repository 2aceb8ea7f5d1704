package signal

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/signalsim/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// barsFromCloses builds hourly bars with a fixed ±1 range around each close.
func barsFromCloses(closes ...float64) []models.OHLCV {
	bars := make([]models.OHLCV, len(closes))
	for i, c := range closes {
		bars[i] = models.OHLCV{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		}
	}
	return bars
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

// ════════════════════════════════════════════════════════════════════
// Validation
// ════════════════════════════════════════════════════════════════════

func TestProposalValidate(t *testing.T) {
	tests := []struct {
		name  string
		p     Proposal
		field string
	}{
		{"valid long", Proposal{Side: models.Long, Entry: 100, Stop: 98, Target1: 103, Target2: 106}, ""},
		{"valid short", Proposal{Side: models.Short, Entry: 100, Stop: 102, Target1: 97, Target2: 94}, ""},
		{"equal targets", Proposal{Side: models.Long, Entry: 100, Stop: 98, Target1: 103, Target2: 103}, ""},
		{"bad side", Proposal{Side: "up", Entry: 100, Stop: 98, Target1: 103, Target2: 106}, "side"},
		{"zero entry", Proposal{Side: models.Long, Entry: 0, Stop: 98, Target1: 103, Target2: 106}, "entry"},
		{"negative stop", Proposal{Side: models.Long, Entry: 100, Stop: -1, Target1: 103, Target2: 106}, "stop"},
		{"long stop above entry", Proposal{Side: models.Long, Entry: 100, Stop: 101, Target1: 103, Target2: 106}, "stop"},
		{"long target below entry", Proposal{Side: models.Long, Entry: 100, Stop: 98, Target1: 99, Target2: 106}, "target1"},
		{"long inverted targets", Proposal{Side: models.Long, Entry: 100, Stop: 98, Target1: 106, Target2: 103}, "target2"},
		{"short stop below entry", Proposal{Side: models.Short, Entry: 100, Stop: 99, Target1: 97, Target2: 94}, "stop"},
		{"short inverted targets", Proposal{Side: models.Short, Entry: 100, Stop: 102, Target1: 94, Target2: 97}, "target2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate("TEST")
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidProposal) {
				t.Fatalf("expected ErrInvalidProposal, got %v", err)
			}
			var pe *ProposalError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProposalError, got %T", err)
			}
			if pe.Field != tt.field {
				t.Errorf("field = %q, want %q", pe.Field, tt.field)
			}
		})
	}
}

func TestPlanFromRisk(t *testing.T) {
	long := planFromRisk(models.Long, 100, 2, 1.5, 3)
	if long.Stop != 98 || long.Target1 != 103 || long.Target2 != 106 {
		t.Errorf("long plan = %+v", long)
	}
	short := planFromRisk(models.Short, 100, 2, 1.5, 3)
	if short.Stop != 102 || short.Target1 != 97 || short.Target2 != 94 {
		t.Errorf("short plan = %+v", short)
	}
	if err := long.Validate("X"); err != nil {
		t.Errorf("long plan invalid: %v", err)
	}
	if err := short.Validate("X"); err != nil {
		t.Errorf("short plan invalid: %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Built-in sources
// ════════════════════════════════════════════════════════════════════

func TestNew(t *testing.T) {
	for _, name := range []string{"sma_cross", "SMA", "breakout", "donchian", "rsi_reversion", "macd"} {
		if _, err := New(name, Params{}); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New("martingale", Params{}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestSMACross_bullishCross(t *testing.T) {
	src := NewSMACross(Params{FastPeriod: 2, SlowPeriod: 4, ATRPeriod: 3})
	closes := append(flat(6, 100), 110)
	p, err := src.Propose(context.Background(), "TEST", barsFromCloses(closes...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a proposal on bullish cross")
	}
	if p.Side != models.Long || p.Entry != 110 {
		t.Errorf("proposal = %+v", p)
	}
	if err := p.Validate("TEST"); err != nil {
		t.Errorf("proposal invalid: %v", err)
	}
	if _, ok := p.Metadata["atr"]; !ok {
		t.Error("expected atr in metadata")
	}
}

func TestSMACross_noCrossNoProposal(t *testing.T) {
	src := NewSMACross(Params{FastPeriod: 2, SlowPeriod: 4, ATRPeriod: 3})
	p, err := src.Propose(context.Background(), "TEST", barsFromCloses(flat(10, 100)...))
	if err != nil || p != nil {
		t.Errorf("expected no proposal, got %+v, %v", p, err)
	}
	p, _ = src.Propose(context.Background(), "TEST", barsFromCloses(100, 101))
	if p != nil {
		t.Error("expected no proposal for short window")
	}
}

func TestSMACross_shortsDisabled(t *testing.T) {
	src := NewSMACross(Params{FastPeriod: 2, SlowPeriod: 4, ATRPeriod: 3})
	src.p.LongOnly = true
	closes := append(flat(6, 100), 90)
	p, _ := src.Propose(context.Background(), "TEST", barsFromCloses(closes...))
	if p != nil {
		t.Errorf("expected no short proposal, got %+v", p)
	}
}

func TestBreakout(t *testing.T) {
	src := NewBreakout(Params{Channel: 5, ATRPeriod: 3})

	up := append(flat(8, 100), 105)
	p, err := src.Propose(context.Background(), "TEST", barsFromCloses(up...))
	if err != nil || p == nil {
		t.Fatalf("expected long breakout, got %v, %v", p, err)
	}
	if p.Side != models.Long {
		t.Errorf("side = %s, want long", p.Side)
	}

	down := append(flat(8, 100), 95)
	p, _ = src.Propose(context.Background(), "TEST", barsFromCloses(down...))
	if p == nil || p.Side != models.Short {
		t.Fatalf("expected short breakdown, got %+v", p)
	}
	if err := p.Validate("TEST"); err != nil {
		t.Errorf("proposal invalid: %v", err)
	}
}

func TestRSIReversion(t *testing.T) {
	src := NewRSIReversion(Params{RSIPeriod: 2, ATRPeriod: 3})

	// RSI sits at 0 after three falling closes, then the bounce lifts it
	// back through the oversold line.
	p, err := src.Propose(context.Background(), "TEST", barsFromCloses(100, 100, 100, 100, 99, 98, 97, 105))
	if err != nil || p == nil {
		t.Fatalf("expected long on oversold bounce, got %v, %v", p, err)
	}
	if p.Side != models.Long || p.Entry != 105 {
		t.Errorf("proposal = %+v", p)
	}
	if err := p.Validate("TEST"); err != nil {
		t.Errorf("proposal invalid: %v", err)
	}

	p, _ = src.Propose(context.Background(), "TEST", barsFromCloses(100, 100, 100, 100, 101, 102, 103, 95))
	if p == nil || p.Side != models.Short {
		t.Fatalf("expected short on overbought rollover, got %+v", p)
	}

	src.p.LongOnly = true
	if p, _ := src.Propose(context.Background(), "TEST", barsFromCloses(100, 100, 100, 100, 101, 102, 103, 95)); p != nil {
		t.Errorf("long-only source proposed %+v", p)
	}
	if p, _ := src.Propose(context.Background(), "TEST", barsFromCloses(flat(8, 100)...)); p != nil {
		t.Errorf("flat series proposed %+v", p)
	}
}

func TestMACDCross(t *testing.T) {
	src := NewMACDCross(Params{MACDFast: 2, MACDSlow: 4, MACDSignal: 2, ATRPeriod: 3})

	// A long decline pushes the MACD line under its signal; the jump
	// on the last bar crosses it back above.
	closes := []float64{120, 118, 116, 114, 112, 110, 108, 106, 104, 125}
	p, err := src.Propose(context.Background(), "TEST", barsFromCloses(closes...))
	if err != nil || p == nil {
		t.Fatalf("expected long on bullish cross, got %v, %v", p, err)
	}
	if p.Side != models.Long || p.Entry != 125 {
		t.Errorf("proposal = %+v", p)
	}
	for _, k := range []string{"macd", "signal", "histogram"} {
		if _, ok := p.Metadata[k]; !ok {
			t.Errorf("metadata missing %q", k)
		}
	}

	if p, _ := src.Propose(context.Background(), "TEST", barsFromCloses(flat(10, 100)...)); p != nil {
		t.Errorf("flat series proposed %+v", p)
	}
	if p, _ := src.Propose(context.Background(), "TEST", barsFromCloses(100, 101, 102)); p != nil {
		t.Errorf("short window proposed %+v", p)
	}
}

// ════════════════════════════════════════════════════════════════════
// Replay
// ════════════════════════════════════════════════════════════════════

func TestReplay(t *testing.T) {
	bars := barsFromCloses(100, 101, 102)
	doc := `[
		{"symbol":"TEST","ts":` + itoa(bars[1].TS()) + `,"side":"long","entry":101,"stop":99,"target1":104,"target2":107,"metadata":{"score":0.8}},
		{"symbol":"TEST","ts":` + itoa(bars[2].TS()) + `,"side":"short","entry":102,"stop":104}
	]`
	r, err := ReadReplay(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadReplay: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	p, err := r.Propose(context.Background(), "TEST", bars[:1])
	if p != nil || err != nil {
		t.Errorf("expected nothing at bar 0, got %+v, %v", p, err)
	}

	p, err = r.Propose(context.Background(), "TEST", bars[:2])
	if err != nil || p == nil {
		t.Fatalf("expected proposal at bar 1, got %v", err)
	}
	if p.Entry != 101 || p.Metadata["score"] != 0.8 {
		t.Errorf("proposal = %+v", p)
	}

	_, err = r.Propose(context.Background(), "TEST", bars)
	if !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("expected ErrInvalidProposal for missing targets, got %v", err)
	}
	var pe *ProposalError
	if errors.As(err, &pe) && pe.Field != "target1" {
		t.Errorf("field = %q, want target1", pe.Field)
	}

	if p, _ := r.Propose(context.Background(), "OTHER", bars[:2]); p != nil {
		t.Error("expected no proposal for unknown symbol")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
