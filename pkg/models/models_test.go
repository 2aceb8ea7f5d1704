package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

// ── Bar Tests ──

func TestOHLCVHelpers(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bar := OHLCV{Timestamp: ts, Open: 100, High: 110, Low: 90, Close: 105, Volume: 1}

	if bar.TS() != ts.UnixMilli() {
		t.Errorf("TS() = %d, want %d", bar.TS(), ts.UnixMilli())
	}
	if bar.Mid() != 100 {
		t.Errorf("Mid() = %f, want 100", bar.Mid())
	}
	for _, p := range []float64{90, 100, 110} {
		if !bar.Contains(p) {
			t.Errorf("Contains(%f) = false", p)
		}
	}
	for _, p := range []float64{89.99, 110.01} {
		if bar.Contains(p) {
			t.Errorf("Contains(%f) = true", p)
		}
	}
	if !FromMillis(bar.TS()).Equal(ts) {
		t.Errorf("FromMillis round trip = %v", FromMillis(bar.TS()))
	}
}

func TestOHLCVValid(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		bar  OHLCV
		want bool
	}{
		{"normal", OHLCV{Timestamp: ts, High: 2, Low: 1}, true},
		{"flat", OHLCV{Timestamp: ts, High: 1, Low: 1}, true},
		{"inverted", OHLCV{Timestamp: ts, High: 1, Low: 2}, false},
		{"zero low", OHLCV{Timestamp: ts, High: 1, Low: 0}, false},
		{"no timestamp", OHLCV{High: 2, Low: 1}, false},
	}
	for _, tt := range tests {
		if got := tt.bar.Valid(); got != tt.want {
			t.Errorf("%s: Valid() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// ── Number Tests ──

func TestNumberJSON(t *testing.T) {
	tests := []struct {
		in   Number
		want string
	}{
		{Number(1.5), "1.5"},
		{Number(math.Inf(1)), `"+Inf"`},
		{Number(math.Inf(-1)), `"-Inf"`},
		{Number(math.NaN()), "null"},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", float64(tt.in), err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", float64(tt.in), data, tt.want)
		}

		var back Number
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		f, orig := float64(back), float64(tt.in)
		if math.IsNaN(orig) {
			if !math.IsNaN(f) {
				t.Errorf("Unmarshal(%s) = %v, want NaN", data, f)
			}
		} else if f != orig {
			t.Errorf("Unmarshal(%s) = %v, want %v", data, f, orig)
		}
	}

	var n Number
	if err := json.Unmarshal([]byte(`"lots"`), &n); err == nil {
		t.Error("expected an error for a non-numeric string")
	}
}

func TestNumberInStruct(t *testing.T) {
	type doc struct {
		PF Number `json:"profit_factor"`
	}
	data, err := json.Marshal(doc{PF: Number(math.Inf(1))})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"profit_factor":"+Inf"}` {
		t.Errorf("got %s", data)
	}
}

func TestNumberString(t *testing.T) {
	if s := Number(2).String(); s != "2.0000" {
		t.Errorf("String() = %q", s)
	}
	if s := Number(math.Inf(1)).String(); s != "inf" {
		t.Errorf("String(+Inf) = %q", s)
	}
	if s := Number(math.Inf(-1)).String(); s != "-inf" {
		t.Errorf("String(-Inf) = %q", s)
	}
	if s := Number(math.NaN()).String(); s != "n/a" {
		t.Errorf("String(NaN) = %q", s)
	}
}

// ── Signal Tests ──

func TestSideValid(t *testing.T) {
	if !Long.Valid() || !Short.Valid() {
		t.Error("long and short must be valid")
	}
	if Side("flat").Valid() || Side("").Valid() {
		t.Error("unknown sides must be invalid")
	}
}

func TestSignalLifecycle(t *testing.T) {
	s := &Signal{ID: "x", Symbol: "BTCUSDT", Side: Long}
	if s.State() != StatePendingEntry || s.Terminal() || s.Traded() {
		t.Fatalf("new signal: state %s", s.State())
	}

	s.EntryFilled = true
	s.EntryFilledTS = Millis(1000)
	s.ActualEntryPrice = Float(100)
	if s.State() != StateActive || s.Terminal() || s.Traded() {
		t.Fatalf("filled signal: state %s", s.State())
	}

	s.ExitTS = Millis(2000)
	s.ExitPrice = Float(103)
	s.ExitReason = ExitTarget1
	s.PnLPct = Float(3)
	if s.State() != StateClosed || !s.Terminal() || !s.Traded() {
		t.Fatalf("closed signal: state %s traded %v", s.State(), s.Traded())
	}
}

func TestSignalEntryNotFilled(t *testing.T) {
	s := &Signal{
		ExitTS:     Millis(5000),
		ExitReason: ExitEntryNotFilled,
	}
	if s.State() != StateEntryNotFilled {
		t.Errorf("state = %s", s.State())
	}
	if !s.Terminal() {
		t.Error("unfilled signal must be terminal")
	}
	if s.Traded() {
		t.Error("unfilled signal must not count as traded")
	}
}

func TestExitReasonsComplete(t *testing.T) {
	seen := make(map[ExitReason]bool)
	for _, r := range ExitReasons {
		if seen[r] {
			t.Errorf("duplicate reason %s", r)
		}
		seen[r] = true
	}
	for _, r := range []ExitReason{ExitStopLoss, ExitTarget1, ExitTarget2, ExitTimeout, ExitEntryNotFilled, ExitForcedClose} {
		if !seen[r] {
			t.Errorf("missing reason %s", r)
		}
	}
}

func TestSignalJSONOmitsUnsetOptionals(t *testing.T) {
	data, err := json.Marshal(Signal{ID: "a", Symbol: "ETHUSDT", Side: Short})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"exit_ts", "exit_price", "pnl_pct", "actual_entry_price", "entry_filled_ts"} {
		if _, ok := m[k]; ok {
			t.Errorf("%s should be omitted", k)
		}
	}
	if m["side"] != "short" {
		t.Errorf("side = %v", m["side"])
	}
}
