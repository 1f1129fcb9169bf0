// Package buyexecutor consumes BuySignals and runs the pre-trade rejection
// cascade, ATR-risk-parity position sizing, the Portfolio Guard, and order
// dispatch with confirmation polling, grounded on the original's
// services/buyer/executor.py.
package buyexecutor

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
	buyLockTTL            = 180 * time.Second
	dailyBuyCounterTTL    = 24 * time.Hour
	atrLookbackDays       = 30
	correlationLookbackDays = 60
	confirmMaxRetries     = 3
	confirmPollInterval   = 2 * time.Second
)

// GatewayClient is the Broker Gateway's operation surface the Buy Executor
// depends on; satisfied by internal/gateway's HTTP client.
type GatewayClient interface {
	Snapshot(ctx context.Context, code string) (price float64, err error)
	DailyPrices(ctx context.Context, code string, days int) (highs, lows, closes []float64, err error)
	Buy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderNo string) (bool, error)
	OrderStatus(ctx context.Context, orderNo string) (*domain.OrderStatus, error)
	Balance(ctx context.Context) (cash float64, err error)
}

// PositionStore is the persistence surface the Buy Executor writes through.
type PositionStore interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
	PortfolioValue(ctx context.Context) (float64, error)
	SavePosition(ctx context.Context, pos domain.Position) error
	AppendTradeRecord(ctx context.Context, rec domain.TradeRecord) error
}

// Executor runs the Buy Executor pipeline for each consumed BuySignal.
type Executor struct {
	cfg      *config.Config
	gw       GatewayClient
	store    PositionStore
	redis    *redis.Client
	tradingCtx *cache.TypedCache[domain.TradingContext]
	sectorBudget *cache.TypedHashCache[sectorBudgetEntry]
	notifier *bus.TypedStreamPublisher[domain.TradeRecord]
	log      zerolog.Logger
}

// New wires an Executor to its dependencies.
func New(cfg *config.Config, gw GatewayClient, store PositionStore, redisClient *redis.Client, log zerolog.Logger) *Executor {
	return &Executor{
		cfg:          cfg,
		gw:           gw,
		store:        store,
		redis:        redisClient,
		tradingCtx:   cache.NewTypedCache[domain.TradingContext](redisClient),
		sectorBudget: cache.NewTypedHashCache[sectorBudgetEntry](redisClient),
		notifier:     bus.NewTypedStreamPublisher[domain.TradeRecord](redisClient, bus.StreamTradeNotifications, 5000),
		log:          log,
	}
}

// Result is the pipeline's typed outcome, mirroring the original's
// ExecutionResult rather than raising on a routine rejection.
type Result struct {
	Status   string // "success", "skipped", "error"
	Code     string
	OrderNo  string
	Quantity int64
	Price    float64
	Reason   string
}

func skipped(code, reason string) Result { return Result{Status: "skipped", Code: code, Reason: reason} }
func errored(code, reason string) Result { return Result{Status: "error", Code: code, Reason: reason} }

// HandleSignal is the stream Handler registered against stream:buy-signals.
func (e *Executor) HandleSignal(ctx context.Context, signal domain.BuySignal) error {
	result := e.ProcessSignal(ctx, signal)
	if result.Status == "error" {
		e.log.Error().Str("code", result.Code).Str("reason", result.Reason).Msg("❌ buy execution error")
	} else if result.Status == "skipped" {
		e.log.Debug().Str("code", result.Code).Str("reason", result.Reason).Msg("buy signal skipped")
	} else {
		e.log.Info().Str("code", result.Code).Int64("qty", result.Quantity).Float64("price", result.Price).Msg("✅ buy executed")
	}
	return nil
}

// ProcessSignal runs the full pre-trade cascade, sizing, guard, and order
// dispatch pipeline for a single signal.
func (e *Executor) ProcessSignal(ctx context.Context, signal domain.BuySignal) Result {
	code := signal.Code

	if e.keyExists(ctx, "trading:stopped") {
		return skipped(code, "emergency stop active")
	}
	if signal.TradeTier == domain.TierBlocked {
		return skipped(code, "BLOCKED tier (veto)")
	}
	if signal.HybridScore < e.cfg.Risk.HardFloorScore {
		return skipped(code, fmt.Sprintf("hard floor: score %.1f < %.1f", signal.HybridScore, e.cfg.Risk.HardFloorScore))
	}

	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return skipped(code, "position fetch failed")
	}
	for _, p := range positions {
		if p.Code == code {
			return skipped(code, "already holding")
		}
	}
	if e.keyExists(ctx, "stoploss_cooldown:"+code) {
		return skipped(code, "stoploss cooldown active")
	}
	if e.keyExists(ctx, "sell_cooldown:"+code) {
		return skipped(code, "sell cooldown active (24h)")
	}
	if !e.underDailyLimit(ctx) {
		return skipped(code, "daily buy limit reached")
	}
	if len(positions) >= e.cfg.Risk.MaxPortfolioSize {
		return skipped(code, "portfolio full")
	}

	token, acquired, err := cache.Lock(ctx, e.redis, "lock:buy:"+code, buyLockTTL)
	if err != nil || !acquired {
		return skipped(code, "lock acquisition failed")
	}
	defer cache.Unlock(ctx, e.redis, "lock:buy:"+code, token)

	return e.executeBuy(ctx, signal, positions)
}

func (e *Executor) executeBuy(ctx context.Context, signal domain.BuySignal, positions []domain.Position) Result {
	code := signal.Code

	price, err := e.gw.Snapshot(ctx, code)
	if err != nil || price <= 0 {
		price = signal.SignalPrice
	}
	if price <= 0 {
		return errored(code, "invalid price")
	}

	atr := e.calculateATR(ctx, code, price)

	if e.cfg.Risk.CorrelationBlockThreshold > 0 && len(positions) > 0 {
		candidatePrices, err := e.closesFor(ctx, code, correlationLookbackDays)
		if err == nil {
			lookup := func(held string) ([]float64, error) {
				return e.closesFor(ctx, held, correlationLookbackDays)
			}
			if passed, _, reason := checkPortfolioCorrelation(code, candidatePrices, positions, lookup, e.cfg.Risk.CorrelationBlockThreshold); !passed {
				return skipped(code, reason)
			}
		}
	}

	heldSectors := map[domain.SectorGroup]bool{}
	for _, p := range positions {
		heldSectors[p.Sector] = true
	}

	cash, err := e.gw.Balance(ctx)
	if err != nil {
		cash = 0
	}
	portfolioValue, err := e.store.PortfolioValue(ctx)
	if err != nil {
		portfolioValue = 0
	}
	totalAssets := cash + portfolioValue

	sizing := calculatePositionSize(domain.PositionSizingRequest{
		Price:              price,
		ATR:                atr,
		TotalAssets:        totalAssets,
		Cash:               cash,
		SectorAlreadyHeld:  heldSectors[signal.Sector],
		LLMScore:           signal.LLMScore,
		TradeTier:          signal.TradeTier,
		WatchlistAgeDays:   0,
		PositionMultiplier: signal.PositionMultiplier,
	})
	if sizing.Quantity <= 0 {
		reason := sizing.Reason
		if reason == "" {
			reason = "position size zero"
		}
		return skipped(code, reason)
	}

	buyAmount := float64(sizing.Quantity) * price
	guard := checkPortfolioGuard(ctx, e.cfg.Risk, e.sectorBudget, portfolioGuardInput{
		sector:        signal.Sector,
		buyAmount:     buyAmount,
		availableCash: cash,
		totalAssets:   totalAssets,
		positions:     positions,
		regime:        signal.MarketRegime,
	})
	if !guard.passed {
		return skipped(code, "guard: "+guard.reason)
	}

	orderResult, fillPrice, err := e.placeOrder(ctx, signal, sizing.Quantity, price)
	if err != nil {
		return errored(code, err.Error())
	}

	e.incrementDailyCount(ctx)
	e.purgeStaleDynamicState(ctx, code)

	pos := domain.Position{
		Code:           code,
		Name:           signal.Name,
		Quantity:       sizing.Quantity,
		AvgBuyPrice:    fillPrice,
		TotalBuyAmount: fillPrice * float64(sizing.Quantity),
		Sector:         signal.Sector,
		HighWatermark:  fillPrice,
		BoughtAt:       time.Now().UTC(),
	}
	if err := e.store.SavePosition(ctx, pos); err != nil {
		e.log.Error().Err(err).Str("code", code).Msg("❌ failed to persist position after fill")
	}
	record := domain.TradeRecord{
		Code:           code,
		Name:           signal.Name,
		TradeType:      domain.TradeBuy,
		Quantity:       sizing.Quantity,
		Price:          fillPrice,
		TotalAmount:    fillPrice * float64(sizing.Quantity),
		StrategySignal: signal.SignalType,
		Regime:         signal.MarketRegime,
		LLMScore:       signal.LLMScore,
		HybridScore:    signal.HybridScore,
		TradeTier:      signal.TradeTier,
		TradeTimestamp: time.Now().UTC(),
	}
	if err := e.store.AppendTradeRecord(ctx, record); err != nil {
		e.log.Error().Err(err).Str("code", code).Msg("❌ failed to append trade record")
	}
	if _, err := e.notifier.Publish(ctx, record); err != nil {
		e.log.Warn().Err(err).Str("code", code).Msg("⚠️ trade notification publish failed")
	}

	return Result{Status: "success", Code: code, OrderNo: orderResult.OrderNo, Quantity: sizing.Quantity, Price: fillPrice}
}

// placeOrder dispatches a limit order for momentum strategies (with a
// timeout-then-cancel, order_status-confirmed fallback) or a market order
// otherwise, honoring dry-run mode.
func (e *Executor) placeOrder(ctx context.Context, signal domain.BuySignal, qty int64, price float64) (domain.OrderResult, float64, error) {
	if e.cfg.IsMock() {
		return domain.OrderResult{Success: true, OrderNo: "DRYRUN-0000", Price: price}, price, nil
	}

	if domain.MomentumStrategies[signal.SignalType] {
		limitPrice := alignTickSize(price * (1 + e.cfg.Signal.LimitOrderPremiumPct/100))
		result, err := e.gw.Buy(ctx, domain.OrderRequest{Code: signal.Code, Quantity: qty, OrderType: domain.OrderLimit, Price: limitPrice})
		if err != nil {
			return domain.OrderResult{}, 0, fmt.Errorf("limit order failed: %w", err)
		}
		if !result.Success || result.OrderNo == "" {
			return domain.OrderResult{}, 0, fmt.Errorf("limit order rejected: %s", result.Message)
		}
		time.Sleep(time.Duration(e.cfg.Signal.MomentumLimitTimeoutSec) * time.Second)
		cancelled, _ := e.gw.CancelOrder(ctx, result.OrderNo)
		// Resolved Open Question: call order_status unconditionally before
		// trusting either outcome, rather than inferring a fill from a
		// failed cancel alone.
		status, err := e.gw.OrderStatus(ctx, result.OrderNo)
		if err == nil && status != nil && status.Filled {
			return result, status.AvgPrice, nil
		}
		if cancelled {
			return domain.OrderResult{}, 0, fmt.Errorf("limit order timeout, cancelled")
		}
		return e.confirmFill(ctx, result.OrderNo, limitPrice)
	}

	result, err := e.gw.Buy(ctx, domain.OrderRequest{Code: signal.Code, Quantity: qty, OrderType: domain.OrderMarket})
	if err != nil {
		return domain.OrderResult{}, 0, fmt.Errorf("market order failed: %w", err)
	}
	if !result.Success || result.OrderNo == "" {
		return domain.OrderResult{}, 0, fmt.Errorf("market order rejected: %s", result.Message)
	}
	return e.confirmFill(ctx, result.OrderNo, price)
}

// confirmFill polls order_status up to confirmMaxRetries times, cancelling
// and erroring an unfilled market order rather than creating a phantom position.
func (e *Executor) confirmFill(ctx context.Context, orderNo string, fallbackPrice float64) (domain.OrderResult, float64, error) {
	for i := 0; i < confirmMaxRetries; i++ {
		status, err := e.gw.OrderStatus(ctx, orderNo)
		if err == nil && status != nil && status.Filled {
			return domain.OrderResult{Success: true, OrderNo: orderNo}, status.AvgPrice, nil
		}
		time.Sleep(confirmPollInterval)
	}
	e.gw.CancelOrder(ctx, orderNo)
	return domain.OrderResult{}, 0, fmt.Errorf("order %s not filled, cancelled", orderNo)
}

func (e *Executor) calculateATR(ctx context.Context, code string, price float64) float64 {
	highs, lows, closes, err := e.gw.DailyPrices(ctx, code, atrLookbackDays)
	if err != nil || len(highs) < 2 {
		return clampATR(price*0.02, price)
	}
	atr := calculateATR(highs, lows, closes, 14)
	if atr <= 0 {
		return clampATR(price*0.02, price)
	}
	return clampATR(atr, price)
}

func (e *Executor) closesFor(ctx context.Context, code string, days int) ([]float64, error) {
	_, _, closes, err := e.gw.DailyPrices(ctx, code, days)
	return closes, err
}

func (e *Executor) keyExists(ctx context.Context, key string) bool {
	n, err := e.redis.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (e *Executor) underDailyLimit(ctx context.Context) bool {
	key := "buy_count:" + time.Now().UTC().Format("2006-01-02")
	n, err := e.redis.Get(ctx, key).Int()
	if err != nil {
		return true
	}
	return n < e.cfg.Risk.MaxBuyCountPerDay
}

func (e *Executor) incrementDailyCount(ctx context.Context) {
	key := "buy_count:" + time.Now().UTC().Format("2006-01-02")
	pipe := e.redis.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, dailyBuyCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		e.log.Warn().Err(err).Msg("⚠️ failed to increment daily buy counter")
	}
}

func (e *Executor) purgeStaleDynamicState(ctx context.Context, code string) {
	e.redis.Del(ctx, "watermark:"+code, "scale_out:"+code, "rsi_sold:"+code, "profit_floor:"+code)
}
