// Package signaldetector evaluates, for each completed bar of a watchlist
// member, the conviction-entry override, the fail-fast risk-gate cascade,
// and the strategy-detector dispatch, publishing a BuySignal on a match.
package signaldetector

import (
	"fmt"
	"time"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/indicators"
)

var kst = mustLoadKST()

func mustLoadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// GateResult is the cascade's typed outcome; Passed=false always carries a
// Reason naming the gate that rejected the candidate.
type GateResult struct {
	Passed bool
	Reason string
}

func pass() GateResult { return GateResult{Passed: true} }
func fail(reason string) GateResult { return GateResult{Passed: false, Reason: reason} }

// gateInput bundles everything the cascade reads, so each gate stays a pure
// function of its inputs and is independently testable.
type gateInput struct {
	now          time.Time
	bars         []domain.Bar
	rsi          float64
	regime       domain.MarketRegime
	volumeRatio  float64
	price        float64
	vwap         float64
	riskOffLevel int
	vixRegime    domain.VixRegime
	tier         domain.TradeTier
	lastSignalAt time.Time
	stoplossCooldownActive bool
	sellCooldownActive     bool
}

// evaluateGates runs the fail-fast cascade in the exact order SPEC_FULL.md
// ??4.4 specifies, returning the first failure or an overall pass.
func evaluateGates(cfg config.ScannerConfig, in gateInput) GateResult {
	if len(in.bars) < cfg.MinBars {
		return fail("min_bars")
	}
	if withinWindow(in.now, cfg.NoTradeWindowStart, cfg.NoTradeWindowEnd) {
		return fail("no_trade_window")
	}
	if withinWindow(in.now, cfg.DangerZoneStart, cfg.DangerZoneEnd) {
		return fail("danger_zone")
	}
	rsiCap := cfg.RSICapDefault
	if in.regime.IsBullish() {
		rsiCap = cfg.RSICapBull
	}
	if in.rsi > rsiCap {
		return fail("rsi_cap")
	}
	if in.riskOffLevel >= 2 || in.vixRegime == domain.VixCrisis {
		return fail("macro_risk_off")
	}
	if in.regime.IsBearish() {
		return fail("bearish_regime")
	}
	if in.volumeRatio > 2.0 && in.price > in.vwap*1.02 {
		return fail("combined_risk")
	}
	if !in.lastSignalAt.IsZero() && in.now.Sub(in.lastSignalAt) < time.Duration(cfg.SellCooldownSec)*time.Second {
		return fail("signal_cooldown")
	}
	if in.stoplossCooldownActive {
		return fail("stoploss_cooldown")
	}
	if in.sellCooldownActive {
		return fail("sell_cooldown")
	}
	if in.tier == domain.TierBlocked {
		return fail("trade_tier_blocked")
	}
	last := in.bars[len(in.bars)-1]
	if indicators.IsShootingStar(last.Open, last.High, last.Low, last.Close) {
		return fail("micro_timing_shooting_star")
	}
	if len(in.bars) >= 2 {
		prev := in.bars[len(in.bars)-2]
		if indicators.IsBearishEngulfing(prev.Open, prev.Close, last.Open, last.Close) {
			return fail("micro_timing_bearish_engulfing")
		}
	}
	return pass()
}

// withinWindow reports whether t's KST wall-clock time falls in [start,end).
func withinWindow(t time.Time, start, end string) bool {
	local := t.In(kst)
	s := parseHHMM(start)
	e := parseHHMM(end)
	cur := local.Hour()*60 + local.Minute()
	return cur >= s && cur < e
}

func parseHHMM(s string) int {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0
	}
	return h*60 + m
}

// dynamicState bundles the per-code cooldown flags read from the cache.
// OnBarCompleted does not use it: it sets the cooldown flags on gateInput
// directly.
type dynamicState struct {
	stoplossCooldownActive bool
	sellCooldownActive     bool
}

func loadDynamicState(stoplossKeyExists, sellKeyExists bool) dynamicState {
	return dynamicState{stoplossCooldownActive: stoplossKeyExists, sellCooldownActive: sellKeyExists}
}
