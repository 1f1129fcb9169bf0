// Command signaldetector runs the Signal Detector as a standalone daemon:
// its own tick consumer group feeding its own in-process Bar Engine, so it
// can be scaled independently of cmd/barengine. In the common co-located
// deployment, cmd/barengine already runs both against a shared Engine;
// this binary exists for the split-process case a careful operator chooses
// under sustained signal-detection load.
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
	log := logging.New("signal-detector")

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

	consumer, err := bus.NewTypedStreamConsumer[domain.Tick](ctx, redisClient, bus.StreamPrices, "group_signal_detector", uuid.NewString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ tick consumer setup failed")
	}

	go runBarCloseWatcher(ctx, engine, detector, log)

	if err := consumer.Run(ctx, func(ctx context.Context, tick domain.Tick) error {
		engine.Ingest(tick)
		return nil
	}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ signal detector exited with error")
	}
	log.Info().Msg("🛑 signal detector shut down")
}

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
