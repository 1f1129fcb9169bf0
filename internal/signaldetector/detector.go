package signaldetector

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kis-trader/internal/barengine"
	"kis-trader/internal/bus"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/indicators"
)

// Detector evaluates completed bars of watchlist members against the
// conviction override, the risk-gate cascade, and the strategy dispatcher.
type Detector struct {
	cfg           *config.Config
	bars          *barengine.Engine
	redis         *redis.Client
	watchlist     *cache.TypedCache[domain.HotWatchlist]
	tradingCtx    *cache.TypedCache[domain.TradingContext]
	publisher     *bus.TypedStreamPublisher[domain.BuySignal]
	lastSignalAt  map[string]time.Time
	pendingMomentum map[string]pendingMomentumSignal
	log           zerolog.Logger
}

type pendingMomentumSignal struct {
	signal    domain.BuySignal
	expiresAt time.Time
}

// New wires a Detector to its dependencies.
func New(cfg *config.Config, bars *barengine.Engine, redisClient *redis.Client, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:             cfg,
		bars:            bars,
		redis:           redisClient,
		watchlist:       cache.NewTypedCache[domain.HotWatchlist](redisClient),
		tradingCtx:      cache.NewTypedCache[domain.TradingContext](redisClient),
		publisher:       bus.NewTypedStreamPublisher[domain.BuySignal](redisClient, bus.StreamBuySignals, 10000),
		lastSignalAt:    make(map[string]time.Time),
		pendingMomentum: make(map[string]pendingMomentumSignal),
		log:             log,
	}
}

// OnBarCompleted is invoked by the bar engine's caller for every watchlist
// member whenever a new completed bar is available. It is the trigger
// point SPEC_FULL.md ??4.4 describes.
func (d *Detector) OnBarCompleted(ctx context.Context, code string) error {
	entry, err := d.lookupWatchlistEntry(ctx, code)
	if err != nil || entry == nil {
		return nil // not a watchlist member, or watchlist cache miss: no action
	}

	tctx, err := d.tradingCtx.Get(ctx, "trading:context")
	if err != nil {
		tctx = domain.DefaultTradingContext()
	}

	bars := d.bars.RecentBars(code, 60)
	if len(bars) == 0 {
		return nil
	}
	volInfo := d.bars.VolumeInfo(code)
	vwap := d.bars.VWAP(code)
	price := d.bars.CurrentPrice(code)
	rsi := rsiFromRecentBars(bars)

	d.checkPendingMomentum(ctx, code, price)

	if d.tryConvictionEntry(ctx, code, *entry, tctx, bars, price, vwap, rsi) {
		return nil
	}

	gr := evaluateGates(d.cfg.Scanner, gateInput{
		now:          time.Now(),
		bars:         bars,
		rsi:          rsi,
		regime:       tctx.MarketRegime,
		volumeRatio:  volInfo.Ratio,
		price:        price,
		vwap:         vwap,
		riskOffLevel: tctx.RiskOffLevel,
		vixRegime:    tctx.VixRegime,
		tier:         entry.TradeTier,
		lastSignalAt: d.lastSignalAt[code],
		stoplossCooldownActive: d.keyExists(ctx, "stoploss_cooldown:"+code),
		sellCooldownActive:     d.keyExists(ctx, "sell_cooldown:"+code),
	})
	if !gr.Passed {
		return nil
	}

	sr := dispatchStrategies(d.cfg.Scanner, strategyDispatchInput{
		bars:        bars,
		regime:      tctx.MarketRegime,
		llmScore:    entry.LLMScore,
		ageDays:     entry.AgeDays(time.Now()),
		volumeRatio: volInfo.Ratio,
	})
	if !sr.Matched {
		return nil
	}

	signal := domain.BuySignal{
		Code:               code,
		Name:               entry.Name,
		SignalType:         sr.SignalType,
		SignalPrice:        price,
		LLMScore:           entry.LLMScore,
		HybridScore:        entry.HybridScore,
		TradeTier:          entry.TradeTier,
		RiskTag:            entry.RiskTag,
		MarketRegime:       tctx.MarketRegime,
		Source:             "signal_detector",
		RSI:                rsi,
		VolumeRatio:        volInfo.Ratio,
		VWAP:               vwap,
		PositionMultiplier: tctx.PositionMultiplier,
		Sector:             entry.Sector,
		Timestamp:          time.Now().UTC(),
	}

	if domain.MomentumStrategies[sr.SignalType] && d.cfg.Scanner.MomentumConfirmationBars > 0 {
		d.pendingMomentum[code] = pendingMomentumSignal{
			signal:    signal,
			expiresAt: time.Now().Add(time.Duration(d.cfg.Scanner.MomentumConfirmationBars) * time.Minute),
		}
		return nil
	}

	return d.emit(ctx, code, signal)
}

// checkPendingMomentum emits a previously-buffered momentum signal only if
// the candidate's close has not fallen below the initial signal price;
// expired entries are discarded silently.
func (d *Detector) checkPendingMomentum(ctx context.Context, code string, currentPrice float64) {
	pending, ok := d.pendingMomentum[code]
	if !ok {
		return
	}
	delete(d.pendingMomentum, code)
	if time.Now().After(pending.expiresAt) {
		return
	}
	if currentPrice < pending.signal.SignalPrice {
		return
	}
	_ = d.emit(ctx, code, pending.signal)
}

func (d *Detector) tryConvictionEntry(ctx context.Context, code string, entry domain.WatchlistEntry, tctx domain.TradingContext, bars []domain.Bar, price, vwap, rsi float64) bool {
	dayOpen := 0.0
	if len(bars) > 0 {
		dayOpen = bars[0].Open
	}
	ok := evaluateConvictionEntry(d.cfg.Scanner, convictionInput{
		now:          time.Now(),
		regime:       tctx.MarketRegime,
		watchlistAge: entry.AgeDays(time.Now()),
		hybridScore:  entry.HybridScore,
		llmScore:     entry.LLMScore,
		dayOpenPrice: dayOpen,
		price:        price,
		vwap:         vwap,
		rsi:          rsi,
	})
	if !ok {
		return false
	}
	signal := domain.BuySignal{
		Code:               code,
		Name:               entry.Name,
		SignalType:         domain.SignalWatchlistConviction,
		SignalPrice:        price,
		LLMScore:           entry.LLMScore,
		HybridScore:        entry.HybridScore,
		TradeTier:          entry.TradeTier,
		RiskTag:            entry.RiskTag,
		MarketRegime:       tctx.MarketRegime,
		Source:             "conviction_entry",
		RSI:                rsi,
		VWAP:               vwap,
		PositionMultiplier: tctx.PositionMultiplier,
		Sector:             entry.Sector,
		Timestamp:          time.Now().UTC(),
	}
	_ = d.emit(ctx, code, signal)
	return true
}

func (d *Detector) emit(ctx context.Context, code string, signal domain.BuySignal) error {
	if _, err := d.publisher.Publish(ctx, signal); err != nil {
		d.log.Error().Err(err).Str("code", code).Msg("❌ failed to publish buy signal")
		return err
	}
	d.lastSignalAt[code] = time.Now()
	d.log.Info().Str("code", code).Str("signal_type", string(signal.SignalType)).Float64("price", signal.SignalPrice).Msg("📈 buy signal emitted")
	return nil
}

func (d *Detector) lookupWatchlistEntry(ctx context.Context, code string) (*domain.WatchlistEntry, error) {
	wl, err := d.watchlist.Get(ctx, "watchlist:active")
	if err != nil {
		return nil, err
	}
	entry, ok := wl.GetStock(code)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (d *Detector) keyExists(ctx context.Context, key string) bool {
	n, err := d.redis.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func rsiFromRecentBars(bars []domain.Bar) float64 {
	return indicators.RSIFromBars(closesOf(bars), 14)
}
