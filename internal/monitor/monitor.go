package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kis-trader/internal/bus"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/indicators"
)

const (
	refreshInterval = 300 * time.Second

	// Dynamic per-code state TTLs, matching the keys buyexecutor/sellexecutor/
	// reconciliation clear on exit (watermark:, scale_out:, rsi_sold:, profit_floor:).
	watermarkTTL   = 30 * 24 * time.Hour
	scaleOutTTL    = 30 * 24 * time.Hour
	rsiSoldTTL     = 24 * time.Hour
	profitFloorTTL = 60 * 24 * time.Hour
)

// GatewayClient is the Broker Gateway surface the Position Monitor depends
// on: the held-position snapshot and daily OHLCV for the once-per-refresh
// RSI/ATR/death-cross computation.
type GatewayClient interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
	DailyPrices(ctx context.Context, code string, days int) (highs, lows, closes []float64, err error)
}

// cachedIndicators holds the per-code values the 300s refresh computes once
// so the per-tick hot path never re-fetches daily OHLCV.
type cachedIndicators struct {
	atr         float64
	rsi         float64
	hasRSI      bool
	deathCross  bool
	macdBearish bool
}

type trackedPosition struct {
	mu   sync.RWMutex
	pos  domain.Position
	ind  cachedIndicators
}

// Monitor maintains an in-memory code→position map refreshed every 300s and
// evaluates the exit-rule cascade on each consumed tick.
type Monitor struct {
	cfg        *config.Config
	gw         GatewayClient
	redis      *redis.Client
	tradingCtx *cache.TypedCache[domain.TradingContext]
	publisher  *bus.TypedStreamPublisher[domain.SellOrder]
	log        zerolog.Logger

	mu         sync.RWMutex
	positions  map[string]*trackedPosition
}

// New wires a Monitor to its dependencies.
func New(cfg *config.Config, gw GatewayClient, redisClient *redis.Client, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		gw:         gw,
		redis:      redisClient,
		tradingCtx: cache.NewTypedCache[domain.TradingContext](redisClient),
		publisher:  bus.NewTypedStreamPublisher[domain.SellOrder](redisClient, bus.StreamSellOrders, 10000),
		log:        log,
		positions:  make(map[string]*trackedPosition),
	}
}

// Run drives the 300s refresh loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.refresh(ctx)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

// refresh re-fetches the held-position set from the broker and recomputes
// each code's cached RSI/ATR/death-cross/MACD-bearish once.
func (m *Monitor) refresh(ctx context.Context) {
	positions, err := m.gw.ListPositions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("⚠️ position refresh failed")
		return
	}

	seen := make(map[string]bool, len(positions))
	for _, pos := range positions {
		seen[pos.Code] = true
		highs, lows, closes, err := m.gw.DailyPrices(ctx, pos.Code, 60)
		ind := cachedIndicators{}
		if err == nil && len(closes) >= 20 {
			if rsis := talib.Rsi(closes, 14); len(rsis) > 0 {
				ind.rsi = rsis[len(rsis)-1]
				ind.hasRSI = true
			}
			if atrs := talib.Atr(highs, lows, closes, 14); len(atrs) > 0 {
				ind.atr = atrs[len(atrs)-1]
			}
			ind.deathCross = indicators.CheckDeathCross(closes)
			ind.macdBearish = indicators.CheckMACDBearishDivergence(closes)
		}

		m.mu.Lock()
		tp, ok := m.positions[pos.Code]
		if !ok {
			tp = &trackedPosition{}
			m.positions[pos.Code] = tp
		}
		m.mu.Unlock()

		// The broker snapshot in pos carries no notion of the app's own
		// watermark/scale-out/RSI-sold/profit-floor bookkeeping, so every
		// field tracking that state must be re-merged from Redis (the
		// durable source of truth OnTick writes through to) rather than
		// taken from pos directly — otherwise this 300s refresh silently
		// resets progress OnTick accumulated since the last refresh.
		tp.mu.Lock()
		prev := tp.pos
		tp.pos = pos
		tp.pos.HighWatermark = m.loadWatermark(ctx, pos.Code, maxFloat(prev.HighWatermark, pos.AvgBuyPrice))
		tp.pos.ScaleOutLevel = m.loadScaleOut(ctx, pos.Code, prev.ScaleOutLevel)
		tp.pos.RSISoldFlag = m.loadRSISold(ctx, pos.Code, prev.RSISoldFlag)
		tp.pos.ProfitFloorActive, tp.pos.ProfitFloorLevel = m.loadProfitFloor(ctx, pos.Code, prev.ProfitFloorActive, prev.ProfitFloorLevel)
		tp.ind = ind
		tp.mu.Unlock()
	}

	m.mu.Lock()
	for code := range m.positions {
		if !seen[code] {
			delete(m.positions, code)
		}
	}
	m.mu.Unlock()
}

// OnTick is the per-code hot path invoked for every consumed tick; it
// ignores codes not currently held.
func (m *Monitor) OnTick(ctx context.Context, tick domain.Tick) error {
	m.mu.RLock()
	tp, held := m.positions[tick.Code]
	m.mu.RUnlock()
	if !held {
		return nil
	}

	tp.mu.Lock()
	pos := &tp.pos
	pos.StopLossPrice = pos.AvgBuyPrice // reset to the buy price on every tick; the exit cascade does not read it
	if tick.Price > pos.HighWatermark {
		pos.HighWatermark = tick.Price
		m.saveWatermark(ctx, tick.Code, pos.HighWatermark)
	}
	highProfitPct := pctChange(pos.AvgBuyPrice, pos.HighWatermark)
	if highProfitPct >= 15.0 && !pos.ProfitFloorActive {
		pos.ProfitFloorActive = true
		pos.ProfitFloorLevel = 10.0
		m.saveProfitFloor(ctx, tick.Code, pos.ProfitFloorLevel)
	}
	profitPct := pctChange(pos.AvgBuyPrice, tick.Price)

	exitCtx := PositionContext{
		Code:              tick.Code,
		CurrentPrice:      tick.Price,
		BuyPrice:          pos.AvgBuyPrice,
		Quantity:          pos.Quantity,
		ProfitPct:         profitPct,
		HighWatermark:     pos.HighWatermark,
		HighProfitPct:     highProfitPct,
		ATR:               tp.ind.atr,
		RSI:               tp.ind.rsi,
		HasRSI:            tp.ind.hasRSI,
		HoldingDays:       pos.HoldingDays(time.Now().UTC()),
		ScaleOutLevel:     pos.ScaleOutLevel,
		RSISold:           pos.RSISoldFlag,
		MACDBearish:       tp.ind.macdBearish,
		DeathCross:        tp.ind.deathCross,
		ProfitFloorActive: pos.ProfitFloorActive,
		ProfitFloorLevel:  pos.ProfitFloorLevel,
	}
	name := pos.Name
	tp.mu.Unlock()

	tctx, err := m.tradingCtx.Get(ctx, "trading:context")
	if err != nil {
		tctx = domain.DefaultTradingContext()
	}

	// death_cross/macd_bearish are computed once per refresh and carried on
	// exitCtx; the original attaches them to PositionContext without wiring
	// them into the rule cascade itself, so this mirrors that rather than
	// inventing a new rule. Neither the sell order nor the log line below
	// carries them.
	signal := evaluateExit(m.cfg.Sell, exitCtx, tctx.MarketRegime, tctx.StopLossMultiplier, true)
	if signal == nil {
		return nil
	}

	qty := int64(float64(exitCtx.Quantity) * signal.QuantityPct / 100)
	if qty <= 0 {
		return nil
	}

	order := domain.SellOrder{
		Code:         tick.Code,
		Name:         name,
		SellReason:   signal.Reason,
		CurrentPrice: tick.Price,
		Quantity:     qty,
		BuyPrice:     exitCtx.BuyPrice,
		ProfitPct:    profitPct,
		HoldingDays:  exitCtx.HoldingDays,
		Timestamp:    time.Now().UTC(),
	}
	if _, err := m.publisher.Publish(ctx, order); err != nil {
		m.log.Error().Err(err).Str("code", tick.Code).Msg("❌ failed to publish sell order")
		return err
	}

	tp.mu.Lock()
	if signal.Reason == domain.ReasonProfitTarget && signal.QuantityPct < 100 {
		pos.ScaleOutLevel++
		m.saveScaleOut(ctx, tick.Code, pos.ScaleOutLevel)
	}
	if signal.Reason == domain.ReasonRSIOverbought {
		pos.RSISoldFlag = true
		m.saveRSISold(ctx, tick.Code)
	}
	tp.mu.Unlock()

	m.log.Info().Str("code", tick.Code).Str("reason", string(signal.Reason)).Float64("qty_pct", signal.QuantityPct).Msg("📉 sell order emitted")
	return nil
}

func pctChange(base, current float64) float64 {
	if base <= 0 {
		return 0
	}
	return (current - base) / base * 100
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// loadWatermark reads the durable high-watermark for code, falling back to
// fallback (the last in-memory value, or AvgBuyPrice for a never-seen code)
// when the key is absent or Redis errors.
func (m *Monitor) loadWatermark(ctx context.Context, code string, fallback float64) float64 {
	v, err := m.redis.Get(ctx, "watermark:"+code).Float64()
	if err != nil {
		return fallback
	}
	return maxFloat(v, fallback)
}

func (m *Monitor) saveWatermark(ctx context.Context, code string, value float64) {
	if err := m.redis.Set(ctx, "watermark:"+code, value, watermarkTTL).Err(); err != nil {
		m.log.Warn().Err(err).Str("code", code).Msg("⚠️ failed to persist watermark")
	}
}

func (m *Monitor) loadScaleOut(ctx context.Context, code string, fallback int) int {
	v, err := m.redis.Get(ctx, "scale_out:"+code).Int()
	if err != nil {
		return fallback
	}
	return v
}

func (m *Monitor) saveScaleOut(ctx context.Context, code string, level int) {
	if err := m.redis.Set(ctx, "scale_out:"+code, level, scaleOutTTL).Err(); err != nil {
		m.log.Warn().Err(err).Str("code", code).Msg("⚠️ failed to persist scale-out level")
	}
}

func (m *Monitor) loadRSISold(ctx context.Context, code string, fallback bool) bool {
	n, err := m.redis.Exists(ctx, "rsi_sold:"+code).Result()
	if err != nil {
		return fallback
	}
	return n > 0
}

func (m *Monitor) saveRSISold(ctx context.Context, code string) {
	if err := m.redis.Set(ctx, "rsi_sold:"+code, "1", rsiSoldTTL).Err(); err != nil {
		m.log.Warn().Err(err).Str("code", code).Msg("⚠️ failed to persist RSI-sold flag")
	}
}

func (m *Monitor) loadProfitFloor(ctx context.Context, code string, fallbackActive bool, fallbackLevel float64) (bool, float64) {
	v, err := m.redis.Get(ctx, "profit_floor:"+code).Float64()
	if err != nil {
		return fallbackActive, fallbackLevel
	}
	return true, v
}

func (m *Monitor) saveProfitFloor(ctx context.Context, code string, level float64) {
	if err := m.redis.Set(ctx, "profit_floor:"+code, level, profitFloorTTL).Err(); err != nil {
		m.log.Warn().Err(err).Str("code", code).Msg("⚠️ failed to persist profit-floor level")
	}
}
