// Command monitor runs the Position Monitor: a periodic broker-position
// refresh plus a live tick consumer that evaluates the exit-rule cascade
// for every held code and emits sell orders.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kis-trader/internal/bus"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
	"kis-trader/internal/monitor"
)

func main() {
	log := logging.New("position-monitor")

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

	client := gateway.New(cfg.KIS, log)
	m := monitor.New(cfg, client, redisClient, log)

	consumer, err := bus.NewTypedStreamConsumer[domain.Tick](ctx, redisClient, bus.StreamPrices, bus.GroupMonitor, uuid.NewString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ tick consumer setup failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx, m.OnTick) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ position monitor exited with error")
	}
	log.Info().Msg("🛑 position monitor shut down")
}
