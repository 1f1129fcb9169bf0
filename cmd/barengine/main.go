// Command barengine consumes the tick stream, folds ticks into 1-minute
// bars, and notifies the Signal Detector whenever a watchlist member's bar
// closes.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kis-trader/internal/barengine"
	"kis-trader/internal/bus"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/logging"
	"kis-trader/internal/signaldetector"
)

const barCloseCheckInterval = time.Second

func main() {
	log := logging.New("bar-engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := cache.NewClient(ctx, cfg.Redis.Host+":"+cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ redis connect failed")
	}

	engine := barengine.New()
	detector := signaldetector.New(cfg, engine, redisClient, log)

	consumer, err := bus.NewTypedStreamConsumer[domain.Tick](ctx, redisClient, bus.StreamPrices, bus.GroupBarEngine, uuid.NewString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ tick consumer setup failed")
	}

	go runBarCloseWatcher(ctx, engine, detector, log)

	if err := consumer.Run(ctx, func(ctx context.Context, tick domain.Tick) error {
		engine.Ingest(tick)
		return nil
	}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ bar engine exited with error")
	}
	log.Info().Msg("🛑 bar engine shut down")
}

// runBarCloseWatcher polls every active code once a second for a newly
// completed bar (minute boundary crossed since the last check) and fires
// OnBarCompleted for it; the bar engine itself has no push notification, so
// this mirrors the minute-granularity the bucketing already imposes.
func runBarCloseWatcher(ctx context.Context, engine *barengine.Engine, detector *signaldetector.Detector, log zerolog.Logger) {
	lastBarStart := make(map[string]time.Time)
	ticker := time.NewTicker(barCloseCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, code := range engine.ActiveCodes() {
				bars := engine.RecentBars(code, 1)
				if len(bars) == 0 {
					continue
				}
				latest := bars[len(bars)-1]
				if lastBarStart[code].Equal(latest.StartedAt) {
					continue
				}
				lastBarStart[code] = latest.StartedAt
				if err := detector.OnBarCompleted(ctx, code); err != nil {
					log.Warn().Err(err).Str("code", code).Msg("⚠️ bar-close notification failed")
				}
			}
		}
	}
}
