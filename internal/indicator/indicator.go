// Package indicator implements the small set of price indicators used by the
// built-in signal sources.
package indicator

import (
	"math"

	"github.com/seenimoa/signalsim/pkg/models"
)

// SMA calculates the simple moving average. Values before the first full
// period are zero. Returns nil when there is not enough data.
func SMA(data []float64, period int) []float64 {
	n := len(data)
	if period <= 0 || n < period {
		return nil
	}

	out := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		sum += data[i] - data[i-period]
		out[i] = sum / float64(period)
	}
	return out
}

// EMA calculates the exponential moving average seeded with the SMA of the
// first period values.
func EMA(data []float64, period int) []float64 {
	n := len(data)
	if period <= 0 || n < period {
		return nil
	}

	out := make([]float64, n)
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = data[i]*k + out[i-1]*(1-k)
	}
	return out
}

// ATR calculates the Average True Range with Wilder's smoothing.
func ATR(bars []models.OHLCV, period int) []float64 {
	n := len(bars)
	if period <= 0 || n < period+1 {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	out := make([]float64, n)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// Values before index period are zero.
func RSI(data []float64, period int) []float64 {
	n := len(data)
	if period <= 0 || n < period+1 {
		return nil
	}

	out := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := data[i] - data[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		change := data[i] - data[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD calculates the MACD line (fast EMA minus slow EMA) and its signal
// line. The line is valid from index slow-1 and the signal from index
// slow+signal-2; earlier values are zero.
func MACD(data []float64, fast, slow, signal int) (line, sig []float64) {
	n := len(data)
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow+signal-1 {
		return nil, nil
	}

	fastEMA := EMA(data, fast)
	slowEMA := EMA(data, slow)
	line = make([]float64, n)
	for i := slow - 1; i < n; i++ {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	sig = make([]float64, n)
	smoothed := EMA(line[slow-1:], signal)
	copy(sig[slow-1:], smoothed)
	return line, sig
}

// Closes extracts closing prices.
func Closes(bars []models.OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highest returns the highest high over bars, or 0 when empty.
func Highest(bars []models.OHLCV) float64 {
	hi := 0.0
	for i, b := range bars {
		if i == 0 || b.High > hi {
			hi = b.High
		}
	}
	return hi
}

// Lowest returns the lowest low over bars, or 0 when empty.
func Lowest(bars []models.OHLCV) float64 {
	lo := 0.0
	for i, b := range bars {
		if i == 0 || b.Low < lo {
			lo = b.Low
		}
	}
	return lo
}
