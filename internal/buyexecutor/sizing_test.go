package buyexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kis-trader/internal/domain"
)

func TestCalculatePositionSize_Basic(t *testing.T) {
	result := calculatePositionSize(domain.PositionSizingRequest{
		Price:              50000,
		ATR:                1000,
		TotalAssets:        100_000_000,
		Cash:                50_000_000,
		LLMScore:           70,
		TradeTier:          domain.TierOne,
		PositionMultiplier: 1.0,
	})
	assert.Greater(t, result.Quantity, int64(0))
	assert.Empty(t, result.Reason)
}

func TestCalculatePositionSize_ZeroATR(t *testing.T) {
	result := calculatePositionSize(domain.PositionSizingRequest{
		Price:       50000,
		ATR:         0,
		TotalAssets: 100_000_000,
		Cash:        50_000_000,
		TradeTier:   domain.TierOne,
	})
	assert.Equal(t, int64(0), result.Quantity)
	assert.Equal(t, "ATR is zero", result.Reason)
}

func TestCalculatePositionSize_SmartSkip(t *testing.T) {
	result := calculatePositionSize(domain.PositionSizingRequest{
		Price:              50000,
		ATR:                500,
		TotalAssets:        100_000_000,
		Cash:                1_000_000, // far below what the target risk amount would need
		LLMScore:           70,
		TradeTier:          domain.TierOne,
		PositionMultiplier: 1.0,
	})
	assert.Equal(t, int64(0), result.Quantity)
	assert.Contains(t, result.Reason, "smart skip")
}

func TestCalculatePositionSize_BlockedTierZeroesOut(t *testing.T) {
	result := calculatePositionSize(domain.PositionSizingRequest{
		Price:              50000,
		ATR:                1000,
		TotalAssets:        100_000_000,
		Cash:               50_000_000,
		LLMScore:           70,
		TradeTier:          domain.TierBlocked,
		PositionMultiplier: 1.0,
	})
	assert.Equal(t, int64(0), result.Quantity)
}

func TestStaleMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, staleMultiplier(0))
	assert.Equal(t, 1.0, staleMultiplier(1))
	assert.Equal(t, 0.5, staleMultiplier(2))
	assert.Equal(t, 0.3, staleMultiplier(3))
	assert.Equal(t, 0.3, staleMultiplier(10))
}

func TestClampATR(t *testing.T) {
	assert.Equal(t, 1000.0, clampATR(0, 50000))
	assert.Equal(t, 500.0, clampATR(100, 50000))  // below 1% floor -> clamped up
	assert.Equal(t, 2500.0, clampATR(5000, 50000)) // above 5% ceiling -> clamped down
	assert.Equal(t, 1000.0, clampATR(1000, 50000))
}

func TestCalculateATR(t *testing.T) {
	highs := []float64{105, 106, 104, 108, 110}
	lows := []float64{100, 101, 99, 103, 105}
	closes := []float64{102, 104, 101, 106, 108}
	atr := calculateATR(highs, lows, closes, 14)
	assert.Greater(t, atr, 0.0)
}
