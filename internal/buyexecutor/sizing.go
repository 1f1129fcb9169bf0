package buyexecutor

import "kis-trader/internal/domain"

const (
	maxPositionPctDefault  = 12.0
	maxPositionPctAPlus    = 18.0
	llmScoreAPlusThreshold = 80.0
	portfolioHeatLimitPct  = 5.0
	sectorRiskMultiplier   = 0.7
	cashKeepPct            = 10.0
	minQuantity            = 1
	maxQuantity            = 10000
	atrRiskMultiplier      = 2.0
	baseRiskPct            = 1.0
)

// calculatePositionSize implements the ATR-risk-parity sizing algorithm,
// grounded on position_sizing.calculate_position_size: risk amount as a
// fraction of total assets, divided by ATR-scaled risk-per-share, clamped by
// position/cash/quantity ceilings, then de-rated by tier/stale/position
// multipliers.
func calculatePositionSize(req domain.PositionSizingRequest) domain.PositionSizingResult {
	totalAssets := req.TotalAssets
	if totalAssets <= 0 {
		return domain.PositionSizingResult{Reason: "no assets available"}
	}

	sectorMult := 1.0
	if req.SectorAlreadyHeld {
		sectorMult = sectorRiskMultiplier
	}

	riskAmount := totalAssets * (baseRiskPct / 100) * sectorMult
	riskPerShare := req.ATR * atrRiskMultiplier
	if riskPerShare <= 0 {
		return domain.PositionSizingResult{Reason: "ATR is zero"}
	}

	targetQty := int64(riskAmount / riskPerShare)
	if targetQty <= 0 {
		targetQty = 1
	}

	maxPct := maxPositionPctDefault
	if req.LLMScore >= llmScoreAPlusThreshold {
		maxPct = maxPositionPctAPlus
	}
	maxQtyByPct := targetQty
	if req.Price > 0 {
		maxQtyByPct = int64(totalAssets * (maxPct / 100) / req.Price)
	}

	cashKeep := totalAssets * (cashKeepPct / 100)
	investable := req.Cash - cashKeep
	if investable < 0 {
		investable = 0
	}
	var maxQtyByCash int64
	if req.Price > 0 {
		maxQtyByCash = int64(investable / req.Price)
	}

	qty := minInt64(targetQty, maxQtyByPct, maxQtyByCash, maxQuantity)
	if qty < 0 {
		qty = 0
	}

	if targetQty > 0 && qty == maxQtyByCash && float64(maxQtyByCash) < float64(targetQty)*0.5 {
		return domain.PositionSizingResult{Reason: "smart skip: cash allows less than 50% of target"}
	}

	actualRiskPct := 0.0
	if totalAssets > 0 {
		actualRiskPct = float64(qty) * riskPerShare / totalAssets * 100
	}
	if req.PortfolioHeatUsed*100+actualRiskPct > portfolioHeatLimitPct {
		return domain.PositionSizingResult{Reason: "portfolio heat exceeded"}
	}

	tierMult := tierMultiplier(req.TradeTier)
	staleMult := staleMultiplier(req.WatchlistAgeDays)
	posMult := req.PositionMultiplier
	if posMult <= 0 {
		posMult = 1.0
	}

	rawFinal := int64(float64(qty) * tierMult * staleMult * posMult)
	finalQty := int64(0)
	if rawFinal > 0 {
		finalQty = maxInt64(minQuantity, rawFinal)
	}
	if finalQty > maxQuantity {
		finalQty = maxQuantity
	}

	return domain.PositionSizingResult{
		Quantity:   finalQty,
		RiskAmount: float64(finalQty) * riskPerShare,
	}
}

func tierMultiplier(tier domain.TradeTier) float64 {
	switch tier {
	case domain.TierOne:
		return 1.0
	case domain.TierTwo:
		return 0.5
	case domain.TierBlocked:
		return 0.0
	default:
		return 0.5
	}
}

// staleMultiplier de-rates a signal whose watchlist entry is ageing: fresh
// (0-1d) pays no penalty, 2d halves the size, 3d+ cuts it to 30%.
func staleMultiplier(ageDays int) float64 {
	switch {
	case ageDays <= 1:
		return 1.0
	case ageDays == 2:
		return 0.5
	default:
		return 0.3
	}
}

// calculateATR is a simple mean of True Range over the trailing window,
// distinct from the Wilder-smoothed ATR(14) the Position Monitor reads via
// go-talib (see SPEC_FULL.md's ATR resolution note).
func calculateATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) < 2 || len(lows) < 2 || len(closes) < 2 {
		return 0
	}
	n := len(highs)
	trueRanges := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := highs[i] - lows[i]
		if v := absF(highs[i] - closes[i-1]); v > tr {
			tr = v
		}
		if v := absF(lows[i] - closes[i-1]); v > tr {
			tr = v
		}
		trueRanges = append(trueRanges, tr)
	}
	if len(trueRanges) == 0 {
		return 0
	}
	window := trueRanges
	if len(window) > period {
		window = window[len(window)-period:]
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// clampATR keeps the ATR within 1-5% of price, defaulting to 2% when the
// computed value or the price is unusable.
func clampATR(atr, price float64) float64 {
	if atr <= 0 || price <= 0 {
		return price * 0.02
	}
	min := price * 0.01
	max := price * 0.05
	if atr < min {
		return min
	}
	if atr > max {
		return max
	}
	return atr
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt64(values ...int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
