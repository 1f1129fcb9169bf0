package buyexecutor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"kis-trader/internal/domain"
)

func syntheticSeries(n int, seed float64, noise float64) []float64 {
	out := make([]float64, n)
	price := 10000.0
	for i := 0; i < n; i++ {
		price *= 1 + seed + noise*float64(i%3-1)
		out[i] = price
	}
	return out
}

func TestCorrelation_IdenticalSeriesIsHigh(t *testing.T) {
	a := syntheticSeries(40, 0.01, 0.002)
	c, ok := correlation(a, a)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, c, 0.0001)
}

func TestCorrelation_TooShortIsNotOK(t *testing.T) {
	a := []float64{100, 101, 102}
	b := []float64{200, 202, 204}
	_, ok := correlation(a, b)
	assert.False(t, ok)
}

func TestCheckPortfolioCorrelation_BlocksHighCorrelation(t *testing.T) {
	a := syntheticSeries(40, 0.01, 0.002)
	positions := []domain.Position{{Code: "HELD"}}
	lookup := func(code string) ([]float64, error) {
		return a, nil // identical series -> correlation 1.0
	}
	passed, maxCorr, reason := checkPortfolioCorrelation("NEW", a, positions, lookup, 0.85)
	assert.False(t, passed)
	assert.Greater(t, maxCorr, 0.85)
	assert.Contains(t, reason, "HELD")
}

func TestCheckPortfolioCorrelation_SkipsLookupFailures(t *testing.T) {
	positions := []domain.Position{{Code: "HELD"}}
	lookup := func(code string) ([]float64, error) {
		return nil, errors.New("fetch failed")
	}
	passed, _, _ := checkPortfolioCorrelation("NEW", syntheticSeries(40, 0.01, 0.002), positions, lookup, 0.85)
	assert.True(t, passed)
}
