// Package persistence holds the GORM models and repository the Buy
// Executor, Sell Executor, and Reconciliation write through. Grounded on the
// teacher's database/models_pkg/models.go (GORM tag conventions) and
// database/repository.go (repository-per-aggregate shape).
package persistence

import "time"

// Position is the currently-held-stock row; only the Buy Executor, Sell
// Executor, and Reconciliation create/mutate/destroy rows here.
type Position struct {
	Code           string    `gorm:"primaryKey;size:10" json:"code"`
	Name           string    `gorm:"size:100" json:"name"`
	Quantity       int64     `gorm:"not null" json:"quantity"`
	AvgBuyPrice    float64   `gorm:"type:decimal(15,2);not null" json:"avg_buy_price"`
	TotalBuyAmount float64   `gorm:"type:decimal(20,2);not null" json:"total_buy_amount"`
	Sector         string    `gorm:"size:40" json:"sector"`
	HighWatermark  float64   `gorm:"type:decimal(15,2)" json:"high_watermark"`
	StopLossPrice  float64   `gorm:"type:decimal(15,2)" json:"stop_loss_price"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Position) TableName() string { return "positions" }

// TradeLog is the append-only record of every accepted order, including
// Reconciliation's synthetic entries (reason=MANUAL_SYNC).
type TradeLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string    `gorm:"size:10;index;not null" json:"code"`
	Name           string    `gorm:"size:100" json:"name"`
	TradeType      string    `gorm:"size:10;not null" json:"trade_type"` // BUY, SELL
	Quantity       int64     `gorm:"not null" json:"quantity"`
	Price          float64   `gorm:"type:decimal(15,2);not null" json:"price"`
	TotalAmount    float64   `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	Reason         string    `gorm:"size:40" json:"reason"`
	StrategySignal string    `gorm:"size:40" json:"strategy_signal,omitempty"`
	Regime         string    `gorm:"size:20" json:"regime,omitempty"`
	LLMScore       float64   `json:"llm_score,omitempty"`
	HybridScore    float64   `json:"hybrid_score,omitempty"`
	TradeTier      string    `gorm:"size:20" json:"trade_tier,omitempty"`
	ProfitPct      float64   `json:"profit_pct,omitempty"`
	ProfitAmount   float64   `json:"profit_amount,omitempty"`
	HoldingDays    int       `json:"holding_days,omitempty"`
	TradeTimestamp time.Time `gorm:"index" json:"trade_timestamp"`
}

func (TradeLog) TableName() string { return "trade_logs" }

// StockMaster is the reference row every position/trade/daily-price row
// foreign-keys against; created lazily by Reconciliation's only_in_broker
// branch for a position the watchlist pipeline never scored.
type StockMaster struct {
	Code        string  `gorm:"primaryKey;size:10" json:"code"`
	Name        string  `gorm:"size:100" json:"name"`
	Market      string  `gorm:"size:10" json:"market"`
	MarketCap   float64 `json:"market_cap"`
	SectorGroup string  `gorm:"size:40" json:"sector_group"`
	IsActive    bool    `gorm:"default:true" json:"is_active"`
}

func (StockMaster) TableName() string { return "stock_masters" }

// DailyAssetSnapshot is the once-per-trading-day audit row describing the
// whole book's state, written by the Reconciliation job and mirrored to
// object storage (see archive.go).
type DailyAssetSnapshot struct {
	Date            time.Time `gorm:"primaryKey" json:"date"`
	TotalAsset      float64   `json:"total_asset"`
	CashBalance     float64   `json:"cash_balance"`
	StockEvalAmount float64   `json:"stock_eval_amount"`
	TotalPnl        float64   `json:"total_pnl"`
	RealizedPnl     float64   `json:"realized_pnl"`
	PositionCount   int       `json:"position_count"`
}

func (DailyAssetSnapshot) TableName() string { return "daily_asset_snapshots" }

// WatchlistHistory is a denormalised audit row of an external scoring
// pipeline's output, one row per scored entry, inserted by
// Database.AppendWatchlistHistory (no component in this module calls it);
// the core never recomputes these scores.
type WatchlistHistory struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Date        time.Time `gorm:"index;not null" json:"date"`
	Code        string    `gorm:"size:10;index;not null" json:"code"`
	HybridScore float64   `json:"hybrid_score"`
	LLMScore    float64   `json:"llm_score"`
	TradeTier   string    `gorm:"size:20" json:"trade_tier"`
	Rank        int       `json:"rank"`
}

func (WatchlistHistory) TableName() string { return "watchlist_histories" }
