package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/seenimoa/signalsim/pkg/models"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{0, 0, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SMA[%d] = %f, want %f", i, got[i], want[i])
		}
	}
	if SMA([]float64{1, 2}, 3) != nil {
		t.Error("expected nil for insufficient data")
	}
	if SMA([]float64{1, 2}, 0) != nil {
		t.Error("expected nil for zero period")
	}
}

func TestEMA_seededWithSMA(t *testing.T) {
	got := EMA([]float64{2, 4, 6, 8}, 3)
	if got[2] != 4 {
		t.Fatalf("seed = %f, want 4", got[2])
	}
	// k = 0.5 → 8*0.5 + 4*0.5 = 6
	if got[3] != 6 {
		t.Errorf("EMA[3] = %f, want 6", got[3])
	}
}

func TestATR_constantRange(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.OHLCV, 10)
	for i := range bars {
		bars[i] = models.OHLCV{Timestamp: base.Add(time.Duration(i) * time.Hour), Open: 100, High: 101, Low: 99, Close: 100}
	}
	atr := ATR(bars, 5)
	if atr == nil {
		t.Fatal("expected ATR values")
	}
	if math.Abs(atr[9]-2) > 1e-9 {
		t.Errorf("ATR = %f, want 2", atr[9])
	}
	if ATR(bars[:5], 5) != nil {
		t.Error("expected nil when bars <= period")
	}
}

func TestHighestLowest(t *testing.T) {
	bars := []models.OHLCV{{High: 5, Low: 3}, {High: 9, Low: 4}, {High: 7, Low: 1}}
	if Highest(bars) != 9 {
		t.Errorf("Highest = %f", Highest(bars))
	}
	if Lowest(bars) != 1 {
		t.Errorf("Lowest = %f", Lowest(bars))
	}
	if Highest(nil) != 0 || Lowest(nil) != 0 {
		t.Error("expected zero for empty input")
	}
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		want float64
	}{
		{"rising", []float64{1, 2, 3, 4, 5, 6}, 100},
		{"falling", []float64{6, 5, 4, 3, 2, 1}, 0},
		{"flat", []float64{5, 5, 5, 5, 5, 5}, 50},
		{"balanced", []float64{10, 11, 10, 11, 10}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RSI(tt.data, 2)
			if got == nil {
				t.Fatal("expected RSI values")
			}
			if got[2] != tt.want {
				t.Errorf("RSI[2] = %f, want %f", got[2], tt.want)
			}
		})
	}
	if RSI([]float64{1, 2}, 2) != nil {
		t.Error("expected nil when data <= period")
	}
}

func TestMACD(t *testing.T) {
	data := make([]float64, 40)
	for i := range data {
		data[i] = float64(i + 1)
	}
	line, sig := MACD(data, 3, 6, 3)
	if line == nil || sig == nil {
		t.Fatal("expected MACD values")
	}
	if line[4] != 0 {
		t.Errorf("line before slow period = %f, want 0", line[4])
	}
	if line[39] <= 0 || sig[39] <= 0 {
		t.Errorf("uptrend should give a positive MACD, got %f / %f", line[39], sig[39])
	}
	if sig[6] != 0 || sig[7] == 0 {
		t.Errorf("signal should start at index 7, got sig[6]=%f sig[7]=%f", sig[6], sig[7])
	}

	flatLine, flatSig := MACD(flatData(20, 50), 3, 6, 3)
	if math.Abs(flatLine[19]) > 1e-12 || math.Abs(flatSig[19]) > 1e-12 {
		t.Errorf("flat series MACD = %f / %f", flatLine[19], flatSig[19])
	}

	if l, s := MACD(data[:7], 3, 6, 3); l != nil || s != nil {
		t.Error("expected nil for insufficient data")
	}
	if l, _ := MACD(data, 6, 3, 3); l != nil {
		t.Error("expected nil when slow <= fast")
	}
}

func flatData(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
