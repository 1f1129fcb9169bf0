package buyexecutor

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"kis-trader/internal/domain"
)

const correlationMinPeriods = 20

// logReturns converts a close-price series to log returns.
func logReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// correlation computes the Pearson correlation of two close-price series'
// log returns, grounded on the original's numpy.corrcoef usage in
// services/buyer/correlation.py. ok is false when either series is too
// short to trust.
func correlation(pricesA, pricesB []float64) (corr float64, ok bool) {
	minLen := len(pricesA)
	if len(pricesB) < minLen {
		minLen = len(pricesB)
	}
	if minLen < correlationMinPeriods+1 {
		return 0, false
	}
	a := pricesA[len(pricesA)-minLen:]
	b := pricesB[len(pricesB)-minLen:]
	retA := logReturns(a)
	retB := logReturns(b)
	n := len(retA)
	if len(retB) < n {
		n = len(retB)
	}
	if n < correlationMinPeriods {
		return 0, false
	}
	c := stat.Correlation(retA[:n], retB[:n], nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, false
	}
	return c, true
}

// heldPriceLookup resolves a held position's code to its recent daily
// closes; the Buy Executor supplies this via the gateway client.
type heldPriceLookup func(code string) ([]float64, error)

// checkPortfolioCorrelation blocks a buy when the candidate's log-return
// series correlates at or above the block threshold with any held position,
// grounded on check_portfolio_correlation.
func checkPortfolioCorrelation(candidateCode string, candidatePrices []float64, held []domain.Position, lookup heldPriceLookup, blockThreshold float64) (passed bool, maxCorr float64, reason string) {
	maxCorrCode := ""
	for _, pos := range held {
		if pos.Code == candidateCode {
			continue
		}
		heldPrices, err := lookup(pos.Code)
		if err != nil {
			continue
		}
		c, ok := correlation(candidatePrices, heldPrices)
		if !ok || c <= maxCorr {
			continue
		}
		maxCorr = c
		maxCorrCode = pos.Code
	}
	if maxCorr >= blockThreshold {
		return false, maxCorr, "high correlation with " + maxCorrCode
	}
	return true, maxCorr, ""
}
