package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

func baseSellConfig() config.SellConfig {
	return config.SellConfig{
		StopLossPct:              7.0,
		ProfitTargetPct:          20.0,
		TrailingActivationPct:    5.0,
		TrailingMinProfitPct:     3.0,
		TrailingDropByRegime:     map[domain.MarketRegime]float64{domain.RegimeBull: 3.0},
		ScaleOutLevelsByRegime:   map[domain.MarketRegime][]float64{domain.RegimeBull: {3.0, 7.0, 15.0, 25.0}},
		MaxHoldingDaysByRegime:   map[domain.MarketRegime]int{domain.RegimeBull: 20},
	}
}

func TestEvaluateExit_HardStopWinsOverEverythingElse(t *testing.T) {
	ctx := PositionContext{ProfitPct: -12.0, HighProfitPct: 5.0, HoldingDays: 99}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.NotNil(t, signal)
	assert.Equal(t, domain.ReasonHardStop, signal.Reason)
	assert.Equal(t, 100.0, signal.QuantityPct)
}

func TestEvaluateExit_ProfitLockL2(t *testing.T) {
	ctx := PositionContext{ProfitPct: 0.5, HighProfitPct: 4.0}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.NotNil(t, signal)
	assert.Equal(t, domain.ReasonProfitLockL2, signal.Reason)
}

func TestEvaluateExit_ScaleOutEscalatesToFullOnThinRemainder(t *testing.T) {
	ctx := PositionContext{ProfitPct: 8.0, Quantity: 12, ScaleOutLevel: 0}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.NotNil(t, signal)
	assert.Equal(t, domain.ReasonScaleOut, signal.Reason)
	assert.Equal(t, 100.0, signal.QuantityPct) // 25% of 12 = 3, remaining 9 < 10 -> escalate
}

func TestEvaluateExit_ScaleOutNormalPartial(t *testing.T) {
	ctx := PositionContext{ProfitPct: 8.0, Quantity: 1000, ScaleOutLevel: 0}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.NotNil(t, signal)
	assert.Equal(t, domain.ReasonScaleOut, signal.Reason)
	assert.Equal(t, 25.0, signal.QuantityPct)
}

func TestEvaluateExit_RSIOverboughtSkippedWhenAlreadySold(t *testing.T) {
	ctx := PositionContext{ProfitPct: 3.5, RSI: 80, HasRSI: true, RSISold: true, ScaleOutLevel: 4}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.Nil(t, signal)
}

func TestEvaluateExit_TimeExit(t *testing.T) {
	ctx := PositionContext{ProfitPct: 1.0, HoldingDays: 25}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.NotNil(t, signal)
	assert.Equal(t, domain.ReasonTimeExit, signal.Reason)
}

func TestEvaluateExit_NoMatchReturnsNil(t *testing.T) {
	ctx := PositionContext{ProfitPct: 1.0, HoldingDays: 5}
	signal := evaluateExit(baseSellConfig(), ctx, domain.RegimeBull, 1.0, true)
	assert.Nil(t, signal)
}
