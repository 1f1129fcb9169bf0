// Command notifier consumes stream:trade-notifications and forwards every
// accepted trade to Telegram.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"kis-trader/internal/bus"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/logging"
	"kis-trader/internal/notifier"
)

func main() {
	log := logging.New("notifier")

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

	n := notifier.New(cfg.Telegram, log)

	consumer, err := bus.NewTypedStreamConsumer[domain.TradeRecord](ctx, redisClient, bus.StreamTradeNotifications, bus.GroupNotifier, uuid.NewString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ trade-notification consumer setup failed")
	}

	if err := consumer.Run(ctx, n.HandleTrade); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ notifier exited with error")
	}
	log.Info().Msg("🛑 notifier shut down")
}
