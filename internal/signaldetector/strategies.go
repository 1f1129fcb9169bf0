package signaldetector

import (
	"time"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/indicators"
)

// StrategyResult is the typed outcome of a single strategy detector.
type StrategyResult struct {
	Matched     bool
	SignalType  domain.SignalType
	VolumeRatio float64
}

func closesOf(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// detectGoldenCross: MA5 crosses above MA20 with volume confirmation.
func detectGoldenCross(bars []domain.Bar, volRatio float64) StrategyResult {
	closes := closesOf(bars)
	if len(closes) < 21 || volRatio < 1.5 {
		return StrategyResult{}
	}
	prev := closes[:len(closes)-1]
	ma5Prev, ma20Prev := indicators.SMA(prev, 5), indicators.SMA(prev, 20)
	ma5Now, ma20Now := indicators.SMA(closes, 5), indicators.SMA(closes, 20)
	crossedUp := ma5Prev <= ma20Prev && ma5Now > ma20Now
	if crossedUp {
		return StrategyResult{Matched: true, SignalType: domain.SignalGoldenCross, VolumeRatio: volRatio}
	}
	return StrategyResult{}
}

// detectMomentumContinuation: bull-only, MA5>MA20, 5-bar return in [2,5]%, llm>=65.
func detectMomentumContinuation(bars []domain.Bar, regime domain.MarketRegime, llmScore float64) StrategyResult {
	if !regime.IsBullish() || llmScore < 65 {
		return StrategyResult{}
	}
	closes := closesOf(bars)
	if len(closes) < 21 {
		return StrategyResult{}
	}
	ma5, ma20 := indicators.SMA(closes, 5), indicators.SMA(closes, 20)
	if ma5 <= ma20 {
		return StrategyResult{}
	}
	change := closeToCloseReturn(closes)
	if change >= 2.0 && change <= 5.0 {
		return StrategyResult{Matched: true, SignalType: domain.SignalMomentumContinuation}
	}
	return StrategyResult{}
}

// detectMomentum: general 5-bar return in [1.5,7]%, chase-prevention cap applies upstream.
func detectMomentum(bars []domain.Bar) StrategyResult {
	if len(bars) < 5 {
		return StrategyResult{}
	}
	change := openToCloseReturn(bars)
	if change >= 1.5 && change <= 7.0 {
		return StrategyResult{Matched: true, SignalType: domain.SignalMomentum}
	}
	return StrategyResult{}
}

// detectDipBuy: watchlist age 1-5 days, dip range depends on regime.
func detectDipBuy(bars []domain.Bar, regime domain.MarketRegime, ageDays int) StrategyResult {
	if ageDays < 1 || ageDays > 5 {
		return StrategyResult{}
	}
	closes := closesOf(bars)
	if len(closes) < 5 {
		return StrategyResult{}
	}
	recentHigh := closes[0]
	for _, c := range closes {
		if c > recentHigh {
			recentHigh = c
		}
	}
	current := closes[len(closes)-1]
	dipPct := (current - recentHigh) / recentHigh * 100

	// bull regimes: shallow dip [-3.0,-0.5]%; others: deeper dip [-5.0,-2.0]%
	lo, hi := -3.0, -0.5
	if !regime.IsBullish() {
		lo, hi = -5.0, -2.0
	}
	if dipPct >= lo && dipPct <= hi {
		return StrategyResult{Matched: true, SignalType: domain.SignalDipBuy}
	}
	return StrategyResult{}
}

// detectRSIRebound: non-bull only, prev RSI below the regime threshold, curr crosses above.
func detectRSIRebound(closes []float64, regime domain.MarketRegime, cfg config.ScannerConfig) StrategyResult {
	if regime.IsBullish() {
		return StrategyResult{}
	}
	threshold, ok := cfg.RSIReboundThresholdByRegime[regime]
	if !ok {
		threshold = 35.0
	}
	if len(closes) < 16 {
		return StrategyResult{}
	}
	prevRSI := indicators.RSIFromBars(closes[:len(closes)-1], 14)
	currRSI := indicators.RSIFromBars(closes, 14)
	if prevRSI < threshold && currRSI >= threshold {
		return StrategyResult{Matched: true, SignalType: domain.SignalRSIRebound}
	}
	return StrategyResult{}
}

// detectVolumeBreakout: volume ratio >=3x and a new 20-bar high.
func detectVolumeBreakout(bars []domain.Bar, volRatio float64) StrategyResult {
	if volRatio < 3.0 || len(bars) < 20 {
		return StrategyResult{}
	}
	window := bars[len(bars)-20:]
	high := window[0].High
	for _, b := range window {
		if b.High > high {
			high = b.High
		}
	}
	current := bars[len(bars)-1]
	if current.Close > high {
		return StrategyResult{Matched: true, SignalType: domain.SignalVolumeBreakout, VolumeRatio: volRatio}
	}
	return StrategyResult{}
}

// openToCloseReturn is detect_momentum's 5-bar return: the oldest bar's
// open versus the newest bar's close, over a 5-bar window.
func openToCloseReturn(bars []domain.Bar) float64 {
	window := bars[len(bars)-5:]
	start, end := window[0].Open, window[len(window)-1].Close
	if start == 0 {
		return 0
	}
	return (end - start) / start * 100
}

// closeToCloseReturn is detect_momentum_continuation's 5-bar return: a
// 4-step close-to-close diff spanning 5 indices.
func closeToCloseReturn(closes []float64) float64 {
	if len(closes) < 5 {
		return 0
	}
	start, end := closes[len(closes)-5], closes[len(closes)-1]
	if start == 0 {
		return 0
	}
	return (end - start) / start * 100
}

// strategyDispatchInput bundles everything detect_strategies needs.
type strategyDispatchInput struct {
	bars        []domain.Bar
	regime      domain.MarketRegime
	llmScore    float64
	ageDays     int
	volumeRatio float64
}

// dispatchStrategies tries each detector in the fixed priority order from
// SPEC_FULL.md ??4.4: bull-only first, then general, then counter-trend,
// then volume breakout, returning the first match.
func dispatchStrategies(cfg config.ScannerConfig, in strategyDispatchInput) StrategyResult {
	if in.regime.IsBullish() {
		if r := detectGoldenCross(in.bars, in.volumeRatio); r.Matched {
			return r
		}
		if r := detectMomentumContinuation(in.bars, in.regime, in.llmScore); r.Matched {
			return r
		}
	}
	if r := detectMomentum(in.bars); r.Matched {
		return r
	}
	if r := detectDipBuy(in.bars, in.regime, in.ageDays); r.Matched {
		return r
	}
	if r := detectRSIRebound(closesOf(in.bars), in.regime, cfg); r.Matched {
		return r
	}
	if r := detectVolumeBreakout(in.bars, in.volumeRatio); r.Matched {
		return r
	}
	return StrategyResult{}
}

// convictionInput bundles the conviction-entry override's pure inputs.
type convictionInput struct {
	now          time.Time
	regime       domain.MarketRegime
	watchlistAge int
	hybridScore  float64
	llmScore     float64
	dayOpenPrice float64
	price        float64
	vwap         float64
	rsi          float64
}

// evaluateConvictionEntry checks the override path (bypasses the gate
// cascade entirely): regime not bearish, fresh watchlist age, a hybrid or
// llm score floor, a KST time window, an intraday-gain cap, tight VWAP
// deviation, and RSI below 65.
func evaluateConvictionEntry(cfg config.ScannerConfig, in convictionInput) bool {
	if !cfg.ConvictionEntryEnabled {
		return false
	}
	if in.regime.IsBearish() {
		return false
	}
	if in.watchlistAge > 2 {
		return false
	}
	if in.hybridScore < cfg.ConvictionMinHybridScore && in.llmScore < cfg.ConvictionMinLLMScore {
		return false
	}
	if !withinWindow(in.now, cfg.ConvictionWindowStart, cfg.ConvictionWindowEnd) {
		return false
	}
	if in.dayOpenPrice > 0 {
		gain := (in.price - in.dayOpenPrice) / in.dayOpenPrice * 100
		if gain >= cfg.ConvictionMaxGainPct {
			return false
		}
	}
	if in.vwap > 0 {
		deviation := absPct(in.price, in.vwap)
		if deviation >= 1.5 {
			return false
		}
	}
	if in.rsi >= 65 {
		return false
	}
	return true
}

func absPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	d := (a - b) / b * 100
	if d < 0 {
		return -d
	}
	return d
}
