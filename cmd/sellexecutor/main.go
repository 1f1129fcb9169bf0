// Command sellexecutor consumes sell orders and dispatches validated sell
// orders through the Broker Gateway.
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
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
	"kis-trader/internal/persistence"
	"kis-trader/internal/sellexecutor"
)

func main() {
	log := logging.New("sell-executor")

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
	executor := sellexecutor.New(cfg, client, db, redisClient, log)

	consumer, err := bus.NewTypedStreamConsumer[domain.SellOrder](ctx, redisClient, bus.StreamSellOrders, bus.GroupSellExecutor, uuid.NewString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ sell-order consumer setup failed")
	}

	if err := consumer.Run(ctx, executor.HandleOrder); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ sell executor exited with error")
	}
	log.Info().Msg("🛑 sell executor shut down")
}
