// Package sellexecutor consumes SellOrders and runs the validation,
// distributed-lock, and order-dispatch pipeline, grounded on the original's
// services/seller/executor.py.
package sellexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kis-trader/internal/bus"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

const (
	sellLockTTL         = 30 * time.Second
	sellCooldownTTL     = 24 * time.Hour
	confirmMaxRetries   = 3
	confirmPollInterval = 2 * time.Second
	marketOpenHour      = 9
	marketCloseHour     = 15
	marketCloseMinute   = 30
)

// GatewayClient is the Broker Gateway's operation surface the Sell Executor
// depends on; satisfied by internal/gateway's HTTP client.
type GatewayClient interface {
	Snapshot(ctx context.Context, code string) (price float64, err error)
	ListPositions(ctx context.Context) ([]domain.Position, error)
	Sell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderNo string) (bool, error)
	OrderStatus(ctx context.Context, orderNo string) (*domain.OrderStatus, error)
}

// PositionStore is the persistence surface the Sell Executor writes through.
type PositionStore interface {
	DeletePosition(ctx context.Context, code string) error
	ReducePosition(ctx context.Context, code string, soldQty int64) error
	AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error
}

// Executor runs the Sell Executor pipeline for each consumed SellOrder.
type Executor struct {
	cfg      *config.Config
	gw       GatewayClient
	store    PositionStore
	redis    *redis.Client
	notifier *bus.TypedStreamPublisher[domain.TradeRecord]
	now      func() time.Time
	log      zerolog.Logger
}

// New wires an Executor to its dependencies.
func New(cfg *config.Config, gw GatewayClient, store PositionStore, redisClient *redis.Client, log zerolog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		redis:    redisClient,
		notifier: bus.NewTypedStreamPublisher[domain.TradeRecord](redisClient, bus.StreamTradeNotifications, 5000),
		now:      func() time.Time { return time.Now() },
		log:      log,
	}
}

// Result is the pipeline's typed outcome, mirroring the original's SellResult.
type Result struct {
	Status    string // "success", "skipped", "error"
	Code      string
	OrderNo   string
	Quantity  int64
	Price     float64
	ProfitPct float64
	Reason    string
}

func skipped(code, reason string) Result { return Result{Status: "skipped", Code: code, Reason: reason} }
func errored(code, reason string) Result { return Result{Status: "error", Code: code, Reason: reason} }

// HandleOrder is the stream Handler registered against stream:sell-orders.
func (e *Executor) HandleOrder(ctx context.Context, order domain.SellOrder) error {
	result := e.ProcessSignal(ctx, order)
	switch result.Status {
	case "error":
		e.log.Error().Str("code", result.Code).Str("reason", result.Reason).Msg("❌ sell execution error")
	case "skipped":
		e.log.Debug().Str("code", result.Code).Str("reason", result.Reason).Msg("sell order skipped")
	default:
		e.log.Info().Str("code", result.Code).Int64("qty", result.Quantity).Float64("price", result.Price).
			Float64("profit_pct", result.ProfitPct).Msg("✅ sell executed")
	}
	return nil
}

// isManual reports whether the reason bypasses market-hours and emergency-
// stop checks, matching MANUAL and FORCED_LIQUIDATION in the original.
func isManual(reason domain.SellReason) bool {
	return reason == domain.ReasonManual || reason == domain.ReasonForcedLiquidation
}

// ProcessSignal runs the full validation, lock, and dispatch pipeline for a
// single sell order.
//
// Steps: market-hours check, emergency-stop check (both bypassed by a
// manual/forced-liquidation reason), position validation, distributed lock,
// then execution under the lock.
func (e *Executor) ProcessSignal(ctx context.Context, order domain.SellOrder) Result {
	code := order.Code
	manual := isManual(order.SellReason)

	if !manual && !e.isMarketHours() {
		return skipped(code, "outside market hours")
	}
	if !manual && e.keyExists(ctx, "trading:stopped") {
		return skipped(code, "emergency stop active")
	}

	positions, err := e.gw.ListPositions(ctx)
	if err != nil {
		e.log.Error().Err(err).Str("code", code).Msg("❌ failed to fetch positions")
		positions = nil
	}
	var position *domain.Position
	for i := range positions {
		if positions[i].Code == code {
			position = &positions[i]
			break
		}
	}
	if position == nil {
		return skipped(code, "not holding")
	}

	token, acquired, err := cache.Lock(ctx, e.redis, "lock:sell:"+code, sellLockTTL)
	if err != nil || !acquired {
		return skipped(code, "lock acquisition failed")
	}
	defer cache.Unlock(ctx, e.redis, "lock:sell:"+code, token)

	return e.executeSell(ctx, order, *position)
}

func (e *Executor) executeSell(ctx context.Context, order domain.SellOrder, position domain.Position) Result {
	code := order.Code

	sellQty := order.Quantity
	if sellQty > position.Quantity {
		sellQty = position.Quantity
	}
	if sellQty <= 0 {
		return skipped(code, "nothing to sell")
	}

	currentPrice, err := e.gw.Snapshot(ctx, code)
	if err != nil || currentPrice <= 0 {
		currentPrice = order.CurrentPrice
	}
	if currentPrice <= 0 {
		return errored(code, "invalid price")
	}

	buyPrice := position.AvgBuyPrice
	profitPct := 0.0
	if buyPrice > 0 {
		profitPct = (currentPrice - buyPrice) / buyPrice * 100
	}

	if e.cfg.IsMock() {
		e.applyCooldowns(ctx, code, order.SellReason)
		if sellQty >= position.Quantity {
			e.cleanupPositionState(ctx, code)
			_ = e.store.DeletePosition(ctx, code)
		} else {
			_ = e.store.ReducePosition(ctx, code, sellQty)
		}
		e.appendTradeRecord(ctx, order, sellQty, currentPrice, profitPct)
		return Result{Status: "success", Code: code, OrderNo: "DRYRUN-0000", Quantity: sellQty, Price: currentPrice, ProfitPct: profitPct}
	}

	result, err := e.gw.Sell(ctx, domain.OrderRequest{Code: code, Quantity: sellQty, OrderType: domain.OrderMarket})
	if err != nil {
		return errored(code, fmt.Sprintf("order failed: %v", err))
	}
	if !result.Success || result.OrderNo == "" {
		return errored(code, fmt.Sprintf("order rejected: %s", result.Message))
	}

	sellPrice := currentPrice
	for i := 0; i < confirmMaxRetries; i++ {
		status, err := e.gw.OrderStatus(ctx, result.OrderNo)
		if err == nil && status != nil && status.Filled {
			if status.AvgPrice > 0 {
				sellPrice = status.AvgPrice
			}
			break
		}
		if i == confirmMaxRetries-1 {
			e.log.Error().Str("code", code).Str("order_no", result.OrderNo).Msg("❌ sell order not filled, cancelling")
			e.gw.CancelOrder(ctx, result.OrderNo)
			return errored(code, fmt.Sprintf("sell not filled, cancelled: %s", result.OrderNo))
		}
		time.Sleep(confirmPollInterval)
	}

	if buyPrice > 0 && sellPrice != currentPrice {
		profitPct = (sellPrice - buyPrice) / buyPrice * 100
	}

	e.applyCooldowns(ctx, code, order.SellReason)
	if sellQty >= position.Quantity {
		e.cleanupPositionState(ctx, code)
		_ = e.store.DeletePosition(ctx, code)
	} else {
		_ = e.store.ReducePosition(ctx, code, sellQty)
	}
	e.appendTradeRecord(ctx, order, sellQty, sellPrice, profitPct)

	return Result{Status: "success", Code: code, OrderNo: result.OrderNo, Quantity: sellQty, Price: sellPrice, ProfitPct: profitPct}
}

// applyCooldowns sets the longer stoploss cooldown for reasons in
// domain.StopLossCooldownReasons and the 24h universal sell cooldown for
// every sell regardless of reason.
func (e *Executor) applyCooldowns(ctx context.Context, code string, reason domain.SellReason) {
	if domain.StopLossCooldownReasons[reason] {
		days := e.cfg.Risk.StoplossCooldownDays
		e.redis.SetEx(ctx, "stoploss_cooldown:"+code, "1", time.Duration(days)*24*time.Hour)
	}
	e.redis.SetEx(ctx, "sell_cooldown:"+code, "1", sellCooldownTTL)
}

// cleanupPositionState clears the scale-out/RSI-sold/profit-floor/watermark
// dynamic state a full exit leaves behind.
func (e *Executor) cleanupPositionState(ctx context.Context, code string) {
	e.redis.Del(ctx, "watermark:"+code, "scale_out:"+code, "rsi_sold:"+code, "profit_floor:"+code)
}

func (e *Executor) appendTradeRecord(ctx context.Context, order domain.SellOrder, qty int64, price, profitPct float64) {
	record := domain.TradeRecord{
		Code:           order.Code,
		Name:           order.Name,
		TradeType:      domain.TradeSell,
		Quantity:       qty,
		Price:          price,
		TotalAmount:    price * float64(qty),
		Reason:         string(order.SellReason),
		ProfitPct:      profitPct,
		ProfitAmount:   (price - order.BuyPrice) * float64(qty),
		HoldingDays:    order.HoldingDays,
		TradeTimestamp: e.now().UTC(),
	}
	if err := e.store.AppendTradeRecord(ctx, record); err != nil {
		e.log.Error().Err(err).Str("code", order.Code).Msg("❌ failed to append trade record")
	}
	if _, err := e.notifier.Publish(ctx, record); err != nil {
		e.log.Warn().Err(err).Str("code", order.Code).Msg("⚠️ trade notification publish failed")
	}
}

func (e *Executor) isMarketHours() bool {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*3600)
	}
	now := e.now().In(loc)
	open := time.Date(now.Year(), now.Month(), now.Day(), marketOpenHour, 0, 0, 0, loc)
	shut := time.Date(now.Year(), now.Month(), now.Day(), marketCloseHour, marketCloseMinute, 0, 0, loc)
	return !now.Before(open) && !now.After(shut)
}

func (e *Executor) keyExists(ctx context.Context, key string) bool {
	n, err := e.redis.Exists(ctx, key).Result()
	return err == nil && n > 0
}
