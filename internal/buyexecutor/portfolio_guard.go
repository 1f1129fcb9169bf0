package buyexecutor

import (
	"context"
	"fmt"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

// sectorBudgetKey is the Redis hash holding per-sector dynamic caps, keyed
// by SectorGroup, value {"portfolio_cap": N}.
const sectorBudgetKey = "sector_budget:active"

// sectorBudgetEntry is the JSON shape stored under sectorBudgetKey.
type sectorBudgetEntry struct {
	PortfolioCap int `json:"portfolio_cap"`
}

// sectorBudgetLookup is satisfied by *cache.TypedHashCache[sectorBudgetEntry];
// narrowed to an interface so tests can stub it without a live Redis client.
type sectorBudgetLookup interface {
	HGet(ctx context.Context, key, field string) (sectorBudgetEntry, error)
}

// guardResult is the Portfolio Guard's typed outcome; Passed=false always
// carries a human-readable reason for the trade log.
type guardResult struct {
	passed bool
	reason string
}

func guardPass() guardResult { return guardResult{passed: true} }
func guardFail(reason string) guardResult { return guardResult{reason: reason} }

// portfolioGuardInput bundles everything checkPortfolioGuard needs.
type portfolioGuardInput struct {
	sector        domain.SectorGroup
	buyAmount     float64
	availableCash float64
	totalAssets   float64
	positions     []domain.Position
	regime        domain.MarketRegime
}

// checkPortfolioGuard runs the fail-fast sector/cash/concentration checks
// SPEC_FULL.md ??4.5 step 7 lists, grounded on portfolio_guard.PortfolioGuard
// and supplemented with the sector/stock value-concentration checks the
// distillation only summarised. cfg.GuardEnabled=false runs the guard in
// shadow mode (unconditional pass). budget may be nil; the dynamic sector
// cap lookup is skipped (falling back to MaxSectorStocks) whenever it is
// nil, disabled, or the hash has no entry for the sector.
func checkPortfolioGuard(ctx context.Context, cfg config.RiskConfig, budget sectorBudgetLookup, in portfolioGuardInput) guardResult {
	if !cfg.GuardEnabled {
		return guardPass()
	}

	sectorCount := 0
	sectorValue := 0.0
	for _, p := range in.positions {
		if p.Sector != in.sector {
			continue
		}
		sectorCount++
		sectorValue += p.TotalBuyAmount
	}

	maxSectorStocks := cfg.MaxSectorStocks
	if cfg.DynamicSectorBudgetEnabled && budget != nil {
		if entry, err := budget.HGet(ctx, sectorBudgetKey, string(in.sector)); err == nil {
			maxSectorStocks = entry.PortfolioCap
		}
	}

	if sectorCount >= maxSectorStocks {
		return guardFail(fmt.Sprintf("sector %s: %d/%d stocks (full)", in.sector, sectorCount, maxSectorStocks))
	}

	maxSectorValuePct := cfg.MaxSectorValuePct
	if in.regime == domain.RegimeStrongBull {
		maxSectorValuePct *= 1.5
	}
	if in.totalAssets > 0 {
		sectorValuePct := (sectorValue + in.buyAmount) / in.totalAssets * 100
		if sectorValuePct > maxSectorValuePct {
			return guardFail(fmt.Sprintf("sector %s value %.1f%% > cap %.1f%%", in.sector, sectorValuePct, maxSectorValuePct))
		}
		stockValuePct := in.buyAmount / in.totalAssets * 100
		if stockValuePct > cfg.MaxStockValuePct {
			return guardFail(fmt.Sprintf("stock value %.1f%% > cap %.1f%%", stockValuePct, cfg.MaxStockValuePct))
		}
	}

	floorPct, ok := cfg.CashFloorPctByRegime[in.regime]
	if !ok {
		floorPct = 15.0
	}
	if in.totalAssets > 0 {
		cashAfter := in.availableCash - in.buyAmount
		cashAfterPct := cashAfter / in.totalAssets * 100
		if cashAfterPct < floorPct {
			return guardFail(fmt.Sprintf("cash %.1f%% < floor %.0f%% (%s)", cashAfterPct, floorPct, in.regime))
		}
	}

	return guardPass()
}
