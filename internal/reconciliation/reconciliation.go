// Package reconciliation compares the broker's authoritative holdings
// against the locally persisted positions and applies corrective
// upserts/deletes with an explicit, logged action for every change.
// Grounded on the original's scripts/sync_positions.py CLI and the
// compare_positions/apply_sync pair exercised by
// tests/unit/services/test_sync_positions.py, generalised into a
// cron-scheduled job (robfig/cron/v3, as the teacher schedules its
// periodic work) rather than a one-shot CLI.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/sectortaxonomy"
)

// priceTolerance is the original's "차이 < 1원이면 일치" slack on average
// buy price comparisons, absorbing float rounding rather than flagging a
// mismatch on sub-won noise.
const priceTolerance = 1.0

// GatewayClient is the Broker Gateway surface Reconciliation reads
// authoritative state from.
type GatewayClient interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
	Snapshot(ctx context.Context, code string) (float64, error)
}

// Store is the persistence surface Reconciliation reads and corrects.
type Store interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
	GetPosition(ctx context.Context, code string) (domain.Position, bool, error)
	SavePosition(ctx context.Context, pos domain.Position) error
	DeletePosition(ctx context.Context, code string) error
	AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error
	EnsureStockMaster(ctx context.Context, code, name string) error
}

// Diff is compare_positions's typed return value: each category is
// independent and a code appears in exactly one of them.
type Diff struct {
	Matched          []string
	OnlyInBroker     []domain.Position
	OnlyInLocal      []domain.Position
	QuantityMismatch []QuantityMismatch
	PriceMismatch    []PriceMismatch
}

func (d Diff) hasChanges() bool {
	return len(d.OnlyInBroker) > 0 || len(d.OnlyInLocal) > 0 ||
		len(d.QuantityMismatch) > 0 || len(d.PriceMismatch) > 0
}

// QuantityMismatch pairs a code's broker and local share counts when they
// disagree; the broker side always wins on apply.
type QuantityMismatch struct {
	Position  domain.Position // broker-reported, authoritative
	LocalQty  int64
	BrokerQty int64
}

// PriceMismatch pairs a code's broker and local average buy prices when
// they disagree beyond priceTolerance.
type PriceMismatch struct {
	Position   domain.Position // broker-reported, authoritative
	LocalAvg   float64
	BrokerAvg  float64
}

// comparePositions classifies every code seen in either source into
// exactly one of matched/only_in_broker/only_in_local/quantity_mismatch/
// price_mismatch, quantity mismatch taking priority over price mismatch
// when a code disagrees on both (mirrors the original's priority rule).
func comparePositions(broker []domain.Position, local []domain.Position) Diff {
	localByCode := make(map[string]domain.Position, len(local))
	for _, p := range local {
		localByCode[p.Code] = p
	}
	seen := make(map[string]bool, len(broker))

	var diff Diff
	for _, bp := range broker {
		seen[bp.Code] = true
		lp, ok := localByCode[bp.Code]
		if !ok {
			diff.OnlyInBroker = append(diff.OnlyInBroker, bp)
			continue
		}
		if bp.Quantity != lp.Quantity {
			diff.QuantityMismatch = append(diff.QuantityMismatch, QuantityMismatch{
				Position: bp, LocalQty: lp.Quantity, BrokerQty: bp.Quantity,
			})
			continue
		}
		if diffAbs(bp.AvgBuyPrice, lp.AvgBuyPrice) >= priceTolerance {
			diff.PriceMismatch = append(diff.PriceMismatch, PriceMismatch{
				Position: bp, LocalAvg: lp.AvgBuyPrice, BrokerAvg: bp.AvgBuyPrice,
			})
			continue
		}
		diff.Matched = append(diff.Matched, bp.Code)
	}
	for _, lp := range local {
		if !seen[lp.Code] {
			diff.OnlyInLocal = append(diff.OnlyInLocal, lp)
		}
	}
	return diff
}

func diffAbs(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Job runs the periodic broker-vs-local comparison and correction.
type Job struct {
	cfg   *config.Config
	gw    GatewayClient
	store Store
	redis *redis.Client
	log   zerolog.Logger
}

// New wires a Job to its dependencies. redisClient may be nil in tests that
// only exercise comparePositions/applySync's pure logic.
func New(cfg *config.Config, gw GatewayClient, store Store, redisClient *redis.Client, log zerolog.Logger) *Job {
	return &Job{cfg: cfg, gw: gw, store: store, redis: redisClient, log: log}
}

// clearDynamicState drops the per-position cache flags Position Monitor and
// Sell Executor own (watermark, scale-out level, RSI-sold flag, profit
// floor), the same keys Sell Executor clears on a full exit — a position
// reconciliation deletes is gone from the broker's book, so any cached
// state about it is stale.
func (j *Job) clearDynamicState(ctx context.Context, code string) {
	if j.redis == nil {
		return
	}
	if err := j.redis.Del(ctx, "watermark:"+code, "scale_out:"+code, "rsi_sold:"+code, "profit_floor:"+code).Err(); err != nil {
		j.log.Warn().Err(err).Str("code", code).Msg("⚠️ reconciliation: dynamic state cleanup failed")
	}
}

// Run performs one reconciliation pass, returning the actions it applied
// for logging/notification by the caller.
func (j *Job) Run(ctx context.Context) ([]string, error) {
	brokerPositions, err := j.gw.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list broker positions: %w", err)
	}
	localPositions, err := j.store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local positions: %w", err)
	}

	diff := comparePositions(brokerPositions, localPositions)
	if !diff.hasChanges() {
		j.log.Info().Msg("reconciliation: no drift, positions match")
		return nil, nil
	}

	brokerByCode := make(map[string]domain.Position, len(brokerPositions))
	for _, bp := range brokerPositions {
		brokerByCode[bp.Code] = bp
	}

	actions, err := j.applySync(ctx, diff, brokerByCode)
	if err != nil {
		return actions, err
	}
	for _, a := range actions {
		j.log.Warn().Str("action", a).Msg("reconciliation applied correction")
	}
	return actions, nil
}

// applySync walks every diff category and performs the corresponding
// correction, appending a human-readable action description per change;
// a code present in every category contributes at most one action.
func (j *Job) applySync(ctx context.Context, diff Diff, brokerByCode map[string]domain.Position) ([]string, error) {
	var actions []string

	for _, bp := range diff.OnlyInBroker {
		if err := j.store.EnsureStockMaster(ctx, bp.Code, bp.Name); err != nil {
			return actions, fmt.Errorf("ensure stock master %s: %w", bp.Code, err)
		}
		watermark := bp.HighWatermark
		if watermark <= 0 {
			watermark = bp.AvgBuyPrice
		}
		sector := bp.Sector
		if sector == "" {
			sector = sectortaxonomy.GetSectorGroup(bp.Code, "")
		}
		pos := bp
		pos.Sector = sector
		pos.HighWatermark = watermark
		pos.StopLossPrice = bp.AvgBuyPrice * (1 - j.cfg.Sell.StopLossPct/100)
		if err := j.store.SavePosition(ctx, pos); err != nil {
			return actions, fmt.Errorf("insert position %s: %w", bp.Code, err)
		}
		if err := j.store.AppendTradeRecord(ctx, syntheticTrade(bp, domain.TradeBuy, bp.Quantity, bp.AvgBuyPrice)); err != nil {
			return actions, fmt.Errorf("log synthetic buy %s: %w", bp.Code, err)
		}
		actions = append(actions, fmt.Sprintf("INSERT %s qty=%d avg=%.0f", bp.Code, bp.Quantity, bp.AvgBuyPrice))
	}

	for _, lp := range diff.OnlyInLocal {
		if err := j.store.DeletePosition(ctx, lp.Code); err != nil {
			return actions, fmt.Errorf("delete position %s: %w", lp.Code, err)
		}
		if err := j.store.AppendTradeRecord(ctx, syntheticTrade(lp, domain.TradeSell, lp.Quantity, lp.AvgBuyPrice)); err != nil {
			return actions, fmt.Errorf("log synthetic sell %s: %w", lp.Code, err)
		}
		j.clearDynamicState(ctx, lp.Code)
		actions = append(actions, fmt.Sprintf("DELETE %s qty=%d", lp.Code, lp.Quantity))
	}

	for _, m := range diff.QuantityMismatch {
		pos, ok, err := j.store.GetPosition(ctx, m.Position.Code)
		if err != nil {
			return actions, fmt.Errorf("get position %s: %w", m.Position.Code, err)
		}
		if !ok {
			continue
		}
		pos.Quantity = m.Position.Quantity
		pos.AvgBuyPrice = m.Position.AvgBuyPrice
		pos.TotalBuyAmount = m.Position.TotalBuyAmount
		if err := j.store.SavePosition(ctx, pos); err != nil {
			return actions, fmt.Errorf("update position %s: %w", m.Position.Code, err)
		}
		actions = append(actions, fmt.Sprintf("UPDATE %s qty:%d→%d", m.Position.Code, m.LocalQty, m.BrokerQty))
	}

	for _, m := range diff.PriceMismatch {
		pos, ok, err := j.store.GetPosition(ctx, m.Position.Code)
		if err != nil {
			return actions, fmt.Errorf("get position %s: %w", m.Position.Code, err)
		}
		if !ok {
			continue
		}
		pos.AvgBuyPrice = m.Position.AvgBuyPrice
		pos.TotalBuyAmount = m.Position.TotalBuyAmount
		pos.StopLossPrice = m.Position.AvgBuyPrice * (1 - j.cfg.Sell.StopLossPct/100)
		if err := j.store.SavePosition(ctx, pos); err != nil {
			return actions, fmt.Errorf("update position %s: %w", m.Position.Code, err)
		}
		actions = append(actions, fmt.Sprintf("UPDATE %s avg:%.0f→%.0f", m.Position.Code, m.LocalAvg, m.BrokerAvg))
	}

	for _, code := range diff.Matched {
		_, bpOK := brokerByCode[code]
		pos, ok, err := j.store.GetPosition(ctx, code)
		if err != nil {
			return actions, fmt.Errorf("get position %s: %w", code, err)
		}
		if !ok || !bpOK {
			continue
		}
		price, err := j.gw.Snapshot(ctx, code)
		if err != nil || price <= pos.HighWatermark {
			continue
		}
		old := pos.HighWatermark
		pos.HighWatermark = price
		if err := j.store.SavePosition(ctx, pos); err != nil {
			return actions, fmt.Errorf("bump watermark %s: %w", code, err)
		}
		actions = append(actions, fmt.Sprintf("UPDATE %s hwm:%.0f→%.0f", code, old, price))
	}

	return actions, nil
}

func syntheticTrade(pos domain.Position, tradeType domain.TradeType, qty int64, price float64) domain.TradeRecord {
	return domain.TradeRecord{
		Code:           pos.Code,
		Name:           pos.Name,
		TradeType:      tradeType,
		Quantity:       qty,
		Price:          price,
		TotalAmount:    price * float64(qty),
		Reason:         "MANUAL_SYNC",
		TradeTimestamp: time.Now(),
	}
}
