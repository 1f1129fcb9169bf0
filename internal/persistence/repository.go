package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"kis-trader/internal/domain"
)

// Database wraps a *gorm.DB the same way the teacher's database.Database
// wraps its connection: one struct, repository methods hung directly off it
// rather than a repository-per-file split, since this domain's aggregate set
// is small enough that the extra indirection buys nothing.
type Database struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema, grounded on the
// teacher's database/connection.go dial pattern adapted to GORM's
// postgres driver (the teacher's database/models_pkg path) instead of the
// teacher's secondary raw database/sql + lib/pq path.
func Open(dsn string) (*Database, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	d := &Database{db: gdb}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) migrate() error {
	return d.db.AutoMigrate(
		&Position{},
		&TradeLog{},
		&StockMaster{},
		&DailyAssetSnapshot{},
		&WatchlistHistory{},
	)
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- buyexecutor.PositionStore ---

// ListPositions returns every currently-held position. HighWatermark and
// StopLossPrice are copied from the row; the transient dynamic-state fields
// (scale-out level, RSI/profit-floor flags) are zeroed; callers that need
// those read them from the Redis keys the Position Monitor and Sell
// Executor own.
func (d *Database) ListPositions(ctx context.Context) ([]domain.Position, error) {
	var rows []Position
	if err := d.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, toDomainPosition(r))
	}
	return out, nil
}

// PortfolioValue sums total_buy_amount across every held position as a cost-
// basis proxy for the live mark-to-market value the gateway's balance call
// would otherwise supply; callers needing a live valuation should prefer the
// Broker Gateway's Balance/ListPositions instead.
func (d *Database) PortfolioValue(ctx context.Context) (float64, error) {
	var total float64
	if err := d.db.WithContext(ctx).Model(&Position{}).
		Select("COALESCE(SUM(total_buy_amount), 0)").Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("portfolio value: %w", err)
	}
	return total, nil
}

// SavePosition upserts by code, matching the original's INSERT ... ON
// CONFLICT (code) DO UPDATE behavior for an averaged-in additional buy.
func (d *Database) SavePosition(ctx context.Context, pos domain.Position) error {
	row := fromDomainPosition(pos)
	return d.db.WithContext(ctx).Save(&row).Error
}

// --- sellexecutor.PositionStore ---

// DeletePosition removes the row on a full exit.
func (d *Database) DeletePosition(ctx context.Context, code string) error {
	return d.db.WithContext(ctx).Where("code = ?", code).Delete(&Position{}).Error
}

// ReducePosition decrements quantity and total_buy_amount proportionally on
// a partial exit (scale-out), leaving avg_buy_price unchanged since a sell
// never changes the cost basis of the shares that remain.
func (d *Database) ReducePosition(ctx context.Context, code string, soldQty int64) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Position
		if err := tx.Where("code = ?", code).First(&row).Error; err != nil {
			return fmt.Errorf("reduce position %s: %w", code, err)
		}
		remaining := row.Quantity - soldQty
		if remaining <= 0 {
			return tx.Delete(&row).Error
		}
		row.TotalBuyAmount = row.AvgBuyPrice * float64(remaining)
		row.Quantity = remaining
		return tx.Save(&row).Error
	})
}

// --- shared ---

// AppendTradeRecord inserts one immutable trade_logs row; satisfies both
// executors' PositionStore interfaces and Reconciliation's synthetic-entry
// writer.
func (d *Database) AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error {
	row := TradeLog{
		Code:           rec.Code,
		Name:           rec.Name,
		TradeType:      string(rec.TradeType),
		Quantity:       rec.Quantity,
		Price:          rec.Price,
		TotalAmount:    rec.TotalAmount,
		Reason:         rec.Reason,
		StrategySignal: string(rec.StrategySignal),
		Regime:         string(rec.Regime),
		LLMScore:       rec.LLMScore,
		HybridScore:    rec.HybridScore,
		TradeTier:      string(rec.TradeTier),
		ProfitPct:      rec.ProfitPct,
		ProfitAmount:   rec.ProfitAmount,
		HoldingDays:    rec.HoldingDays,
		TradeTimestamp: rec.TradeTimestamp,
	}
	if row.TradeTimestamp.IsZero() {
		row.TradeTimestamp = time.Now()
	}
	return d.db.WithContext(ctx).Create(&row).Error
}

// GetPosition returns a single held position, or (domain.Position{}, false,
// nil) if none is held; used by Reconciliation's per-code comparison pass.
func (d *Database) GetPosition(ctx context.Context, code string) (domain.Position, bool, error) {
	var row Position
	err := d.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("get position %s: %w", code, err)
	}
	return toDomainPosition(row), true, nil
}

// EnsureStockMaster inserts a StockMaster row for a broker-held code the
// watchlist pipeline never scored, a no-op if the row already exists.
func (d *Database) EnsureStockMaster(ctx context.Context, code, name string) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&StockMaster{Code: code, Name: name, IsActive: true}).Error
}

// SaveDailyAssetSnapshot upserts the one-row-per-trading-day book summary.
func (d *Database) SaveDailyAssetSnapshot(ctx context.Context, snap DailyAssetSnapshot) error {
	return d.db.WithContext(ctx).Save(&snap).Error
}

// AppendWatchlistHistory inserts one audit row per scored watchlist entry.
func (d *Database) AppendWatchlistHistory(ctx context.Context, rows []WatchlistHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Create(&rows).Error
}

func toDomainPosition(r Position) domain.Position {
	return domain.Position{
		Code:           r.Code,
		Name:           r.Name,
		Quantity:       r.Quantity,
		AvgBuyPrice:    r.AvgBuyPrice,
		TotalBuyAmount: r.TotalBuyAmount,
		Sector:         domain.SectorGroup(r.Sector),
		HighWatermark:  r.HighWatermark,
		StopLossPrice:  r.StopLossPrice,
		BoughtAt:       r.CreatedAt,
	}
}

func fromDomainPosition(p domain.Position) Position {
	return Position{
		Code:           p.Code,
		Name:           p.Name,
		Quantity:       p.Quantity,
		AvgBuyPrice:    p.AvgBuyPrice,
		TotalBuyAmount: p.TotalBuyAmount,
		Sector:         string(p.Sector),
		HighWatermark:  p.HighWatermark,
		StopLossPrice:  p.StopLossPrice,
	}
}
