package buyexecutor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

func baseRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		GuardEnabled:      true,
		MaxSectorStocks:   3,
		MaxSectorValuePct: 30.0,
		MaxStockValuePct:  18.0,
		CashFloorPctByRegime: map[domain.MarketRegime]float64{
			domain.RegimeBull: 10.0,
			domain.RegimeBear: 25.0,
		},
	}
}

// fakeSectorBudget stubs sectorBudgetLookup without a live Redis client.
type fakeSectorBudget struct {
	entries map[string]sectorBudgetEntry
}

func (f fakeSectorBudget) HGet(ctx context.Context, key, field string) (sectorBudgetEntry, error) {
	entry, ok := f.entries[field]
	if !ok {
		return sectorBudgetEntry{}, assert.AnError
	}
	return entry, nil
}

func TestCheckPortfolioGuard_SectorFull(t *testing.T) {
	positions := []domain.Position{
		{Code: "A", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "B", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "C", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
	}
	result := checkPortfolioGuard(context.Background(), baseRiskConfig(), nil, portfolioGuardInput{
		sector:        domain.SectorSemiconductorIT,
		buyAmount:     500_000,
		availableCash: 10_000_000,
		totalAssets:   100_000_000,
		positions:     positions,
		regime:        domain.RegimeBull,
	})
	assert.False(t, result.passed)
	assert.Contains(t, result.reason, "full")
}

func TestCheckPortfolioGuard_CashFloorViolation(t *testing.T) {
	result := checkPortfolioGuard(context.Background(), baseRiskConfig(), nil, portfolioGuardInput{
		sector:        domain.SectorFinance,
		buyAmount:     9_500_000,
		availableCash: 10_000_000,
		totalAssets:   100_000_000,
		positions:     nil,
		regime:        domain.RegimeBull,
	})
	assert.False(t, result.passed)
	assert.Contains(t, result.reason, "cash")
}

func TestCheckPortfolioGuard_Passes(t *testing.T) {
	result := checkPortfolioGuard(context.Background(), baseRiskConfig(), nil, portfolioGuardInput{
		sector:        domain.SectorFinance,
		buyAmount:     1_000_000,
		availableCash: 50_000_000,
		totalAssets:   100_000_000,
		positions:     nil,
		regime:        domain.RegimeBull,
	})
	assert.True(t, result.passed)
}

func TestCheckPortfolioGuard_DisabledShortCircuits(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.GuardEnabled = false
	positions := []domain.Position{
		{Code: "A", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "B", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "C", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
	}
	result := checkPortfolioGuard(context.Background(), cfg, nil, portfolioGuardInput{
		sector:        domain.SectorSemiconductorIT,
		buyAmount:     500_000,
		availableCash: 10_000_000,
		totalAssets:   100_000_000,
		positions:     positions,
		regime:        domain.RegimeBull,
	})
	assert.True(t, result.passed)
}

func TestCheckPortfolioGuard_DynamicSectorCapOverridesFixed(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.DynamicSectorBudgetEnabled = true
	// Fixed cap is 3 (sectorCount == 3 would fail); the dynamic hash raises
	// the cap to 5 for this sector, so the same position count now passes.
	budget := fakeSectorBudget{entries: map[string]sectorBudgetEntry{
		string(domain.SectorSemiconductorIT): {PortfolioCap: 5},
	}}
	positions := []domain.Position{
		{Code: "A", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "B", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "C", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
	}
	result := checkPortfolioGuard(context.Background(), cfg, budget, portfolioGuardInput{
		sector:        domain.SectorSemiconductorIT,
		buyAmount:     500_000,
		availableCash: 50_000_000,
		totalAssets:   100_000_000,
		positions:     positions,
		regime:        domain.RegimeBull,
	})
	assert.True(t, result.passed)
}

func TestCheckPortfolioGuard_DynamicSectorCapFallsBackWhenAbsent(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.DynamicSectorBudgetEnabled = true
	// No hash entry for this sector: falls back to the fixed MaxSectorStocks (3).
	budget := fakeSectorBudget{entries: map[string]sectorBudgetEntry{}}
	positions := []domain.Position{
		{Code: "A", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "B", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
		{Code: "C", Sector: domain.SectorSemiconductorIT, TotalBuyAmount: 1_000_000},
	}
	result := checkPortfolioGuard(context.Background(), cfg, budget, portfolioGuardInput{
		sector:        domain.SectorSemiconductorIT,
		buyAmount:     500_000,
		availableCash: 10_000_000,
		totalAssets:   100_000_000,
		positions:     positions,
		regime:        domain.RegimeBull,
	})
	assert.False(t, result.passed)
	assert.Contains(t, result.reason, "full")
}
