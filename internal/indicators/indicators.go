// Package indicators provides the technical-analysis helpers shared across
// the Signal Detector and Position Monitor. The Position Monitor delegates
// Wilder-smoothed RSI and ATR to go-talib for its exit rules and cached
// per-position indicators (Buy Executor sizing uses its own simple-mean
// True Range ATR in buyexecutor/sizing.go); this
// package only carries the handful of pure functions the original computes
// locally rather than through its shared indicator module: a short-window
// EMA-seeded RSI used solely by the Signal Detector's strategy functions,
// and the death-cross / MACD-bearish-divergence checks the Position
// Monitor re-derives once per 300s refresh.
package indicators

import "math"

// SMA is a simple moving average over the trailing `period` values.
func SMA(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA is a span-based exponential moving average (k=2/(span+1)), seeded
// with the SMA of the first `period` values, matching the original's
// indicators.py::calculate_ema.
func EMA(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return SMA(values, len(values))
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := SMA(values[:period], period)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RSIFromBars is the Signal Detector's locally-computed RSI, distinct from
// the Wilder-smoothed go-talib RSI used for position-lifetime decisions
// (see SPEC_FULL.md ??4.4.1). Seeded with a simple average of the first
// `period` gains/losses, then EMA-smoothed — this is the "simple-EMA-seeded"
// variant the original's scanner/strategies.py computes bar-by-bar.
func RSIFromBars(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// CheckDeathCross reports whether the 5-period MA has just crossed below
// the 20-period MA by more than a 0.2% buffer, given the trailing close
// history (oldest first). Matches the original's check_death_cross.
func CheckDeathCross(closes []float64) bool {
	const buffer = 0.002
	if len(closes) < 21 {
		return false
	}
	prevWindow := closes[:len(closes)-1]
	ma5Prev := SMA(prevWindow, 5)
	ma20Prev := SMA(prevWindow, 20)
	ma5Now := SMA(closes, 5)
	ma20Now := SMA(closes, 20)

	wasAboveOrEqual := ma5Prev >= ma20Prev*(1-buffer)
	isBelow := ma5Now < ma20Now*(1-buffer)
	return wasAboveOrEqual && isBelow
}

// MACD holds the standard 12/26/9 MACD triple.
type MACD struct {
	MACDLine   float64
	SignalLine float64
	Histogram  float64
}

// CalculateMACD computes the 12/26/9 EMA-based MACD over the close history.
func CalculateMACD(closes []float64) MACD {
	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)
	macdLine := ema12 - ema26

	// Build a short MACD-line series for the signal EMA; the original only
	// needs the latest value, approximated here from the trailing window.
	if len(closes) < 35 {
		return MACD{MACDLine: macdLine}
	}
	series := make([]float64, 0, len(closes)-25)
	for i := 26; i <= len(closes); i++ {
		window := closes[:i]
		series = append(series, EMA(window, 12)-EMA(window, 26))
	}
	signal := EMA(series, 9)
	return MACD{MACDLine: macdLine, SignalLine: signal, Histogram: macdLine - signal}
}

// CheckMACDBearishDivergence reports a bearish divergence: price near its
// recent high (within lookback) but the MACD histogram declining, per the
// original's check_macd_bearish_divergence (lookback=10, min 36 bars).
func CheckMACDBearishDivergence(closes []float64) bool {
	const lookback = 10
	if len(closes) < 36 {
		return false
	}
	recentHigh := 0.0
	for _, c := range closes[len(closes)-lookback:] {
		if c > recentHigh {
			recentHigh = c
		}
	}
	current := closes[len(closes)-1]
	nearHigh := current >= recentHigh*0.98

	histNow := CalculateMACD(closes).Histogram
	histPrev := CalculateMACD(closes[:len(closes)-lookback/2]).Histogram
	declining := histNow < histPrev

	return nearHigh && declining
}

// IsShootingStar reports whether a bar's upper shadow is more than twice
// its body, a single-bar reversal pattern the gate cascade's micro-timing
// check screens out.
func IsShootingStar(open, high, low, close float64) bool {
	body := math.Abs(close - open)
	if body == 0 {
		return false
	}
	upperShadow := high - math.Max(open, close)
	return upperShadow > body*2
}

// IsBearishEngulfing reports whether the current bar's body fully engulfs
// the prior bar's body in the opposite (down) direction.
func IsBearishEngulfing(prevOpen, prevClose, open, close float64) bool {
	prevBullish := prevClose > prevOpen
	currBearish := close < open
	engulfs := open >= prevClose && close <= prevOpen
	return prevBullish && currBearish && engulfs
}
