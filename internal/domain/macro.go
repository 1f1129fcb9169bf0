package domain

import "time"

// SectorSignal is one row of the macro pipeline's sector-level read,
// cached alongside the trading context for the Portfolio Guard's
// favor/avoid sector checks.
type SectorSignal struct {
	Sector SectorGroup `json:"sector"`
	Score  float64     `json:"score"`
	Trend  string      `json:"trend"`
}

// KeyTheme is a macro narrative tag the scout pipeline attaches to the day's
// trading context; the core only logs it, it never branches on the value.
type KeyTheme struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// RiskFactor is one named macro risk the scout pipeline tracked for the day.
type RiskFactor struct {
	Name     string `json:"name"`
	Severity int    `json:"severity"`
}

// MacroInsight is the LLM-scoring pipeline's full-text macro read; the core
// persists it for audit but does not parse its prose fields.
type MacroInsight struct {
	Date       string         `json:"date"`
	Summary    string         `json:"summary"`
	KeyThemes  []KeyTheme     `json:"key_themes"`
	RiskFactors []RiskFactor  `json:"risk_factors"`
	Sentiment  string         `json:"sentiment"`
}

// TradingContext is the cached daily macro/regime artifact every risk gate
// and position-sizing computation reads.
type TradingContext struct {
	Date                string       `json:"date"`
	MarketRegime        MarketRegime `json:"market_regime"`
	PositionMultiplier  float64      `json:"position_multiplier"`
	StopLossMultiplier  float64      `json:"stop_loss_multiplier"`
	VixRegime           VixRegime    `json:"vix_regime"`
	RiskOffLevel        int          `json:"risk_off_level"`
	FavorSectors        []SectorGroup `json:"favor_sectors"`
	AvoidSectors        []SectorGroup `json:"avoid_sectors"`
}

// DefaultTradingContext is the conservative fallback used whenever the
// trading:context cache key is absent — see SPEC_FULL.md ??3.1. It must
// never be written back to the cache; it is a pure in-memory default.
func DefaultTradingContext() TradingContext {
	return TradingContext{
		Date:               time.Now().UTC().Format("2006-01-02"),
		MarketRegime:       RegimeSideways,
		PositionMultiplier: 0.8,
		StopLossMultiplier: 1.2,
		VixRegime:          VixNormal,
		RiskOffLevel:       0,
	}
}

// GlobalSnapshot is the macro pipeline's whole-market-in-one-row artifact
// (index level, breadth, VIX proxy); persisted once per day for audit.
type GlobalSnapshot struct {
	Date          string  `json:"date"`
	KospiClose    float64 `json:"kospi_close"`
	KospiChangePct float64 `json:"kospi_change_pct"`
	AdvanceDeclineRatio float64 `json:"advance_decline_ratio"`
	VixProxy      float64 `json:"vix_proxy"`
}
