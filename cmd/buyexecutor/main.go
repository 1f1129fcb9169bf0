// Command buyexecutor consumes buy signals and dispatches validated buy
// orders through the Broker Gateway.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"kis-trader/internal/bus"
	"kis-trader/internal/buyexecutor"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
	"kis-trader/internal/persistence"
)

func main() {
	log := logging.New("buy-executor")

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

	db, err := persistence.Open(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("❌ database connect failed")
	}
	defer db.Close()

	client := gateway.New(cfg.KIS, log)
	executor := buyexecutor.New(cfg, client, db, redisClient, log)

	consumer, err := bus.NewTypedStreamConsumer[domain.BuySignal](ctx, redisClient, bus.StreamBuySignals, bus.GroupBuyExecutor, uuid.NewString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ buy-signal consumer setup failed")
	}

	if err := consumer.Run(ctx, executor.HandleSignal); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ buy executor exited with error")
	}
	log.Info().Msg("🛑 buy executor shut down")
}
