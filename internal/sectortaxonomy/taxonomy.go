// Package sectortaxonomy maps the fine-grained industry strings the broker
// reports (inherited from the original Naver classification) down to the
// closed 15-bucket domain.SectorGroup every sector cap and correlation
// check operates on.
package sectortaxonomy

import "kis-trader/internal/domain"

// naverToGroup mirrors the original's domain/sector_taxonomy.py mapping
// table. It is intentionally not exhaustive of every Naver label ever
// seen; unmapped labels fall back to SectorOther.
var naverToGroup = map[string]domain.SectorGroup{
	"반도체":     domain.SectorSemiconductorIT,
	"IT서비스":   domain.SectorSemiconductorIT,
	"소프트웨어":   domain.SectorSemiconductorIT,
	"제약":      domain.SectorBioHealth,
	"바이오":     domain.SectorBioHealth,
	"의료정밀":    domain.SectorBioHealth,
	"2차전지":    domain.SectorBatteryMaterials,
	"화학":      domain.SectorChemicalEnergy,
	"은행":      domain.SectorFinance,
	"증권":      domain.SectorFinance,
	"보험":      domain.SectorFinance,
	"자동차":     domain.SectorAutomobile,
	"자동차부품":   domain.SectorAutomobile,
	"건설":      domain.SectorConstructionRE,
	"부동산":     domain.SectorConstructionRE,
	"철강":      domain.SectorSteelMaterials,
	"비철금속":    domain.SectorSteelMaterials,
	"음식료":     domain.SectorFoodConsumer,
	"유통":      domain.SectorFoodConsumer,
	"미디어":     domain.SectorMediaEntertainment,
	"엔터테인먼트":  domain.SectorMediaEntertainment,
	"운송":      domain.SectorLogisticsTransport,
	"해운":      domain.SectorLogisticsTransport,
	"통신서비스":   domain.SectorTelecom,
	"전기가스":    domain.SectorUtility,
	"방위산업":    domain.SectorDefenseShipbuilding,
	"조선":      domain.SectorDefenseShipbuilding,
}

// stockOverride handles the handful of codes whose naive sector label
// misclassifies them relative to how the desk actually groups them for
// the sector-concentration cap (e.g. a holding-company ticker that trades
// with its group's dominant business line).
var stockOverride = map[string]domain.SectorGroup{
	"003550": domain.SectorSemiconductorIT, // LG group holding co. traded with its electronics arm
}

// GetSectorGroup resolves a stock code + its broker-reported sector label
// to the closed SectorGroup taxonomy, consulting the per-code override
// table first.
func GetSectorGroup(code, naverSector string) domain.SectorGroup {
	if g, ok := stockOverride[code]; ok {
		return g
	}
	if g, ok := naverToGroup[naverSector]; ok {
		return g
	}
	return domain.SectorOther
}
