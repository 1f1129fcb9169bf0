// Command kistrader runs every component in a single process, each on its
// own goroutine group sharing one Redis connection and one database handle.
// Intended for local development and dry-run operation; a production
// deployment instead runs cmd/gateway, cmd/barengine, cmd/buyexecutor,
// cmd/monitor, cmd/sellexecutor and cmd/reconciler as independently scaled
// binaries.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kis-trader/internal/barengine"
	"kis-trader/internal/bus"
	"kis-trader/internal/buyexecutor"
	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
	"kis-trader/internal/monitor"
	"kis-trader/internal/notifier"
	"kis-trader/internal/persistence"
	"kis-trader/internal/reconciliation"
	"kis-trader/internal/sellexecutor"
	"kis-trader/internal/signaldetector"
)

const (
	subscriptionRefreshInterval = 5 * time.Minute
	barCloseCheckInterval       = time.Second
	reconcileSchedule           = "*/15 9-15 * * MON-FRI"
)

func main() {
	log := logging.New("kistrader")

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
	streamer := gateway.NewStreamer(cfg.KIS.WSURL, gateway.NewTokenManager(cfg.KIS), redisClient, log)
	watchlist := cache.NewTypedCache[domain.HotWatchlist](redisClient)

	engine := barengine.New()
	detector := signaldetector.New(cfg, engine, redisClient, log)
	buyExec := buyexecutor.New(cfg, client, db, redisClient, log)
	sellExec := sellexecutor.New(cfg, client, db, redisClient, log)
	m := monitor.New(cfg, client, redisClient, log)
	reconcileJob := reconciliation.New(cfg, client, db, redisClient, log)
	notify := notifier.New(cfg.Telegram, log)

	g, gctx := errgroup.WithContext(ctx)

	// Broker Gateway.
	g.Go(func() error { return streamer.Run(gctx) })
	g.Go(func() error { return refreshSubscriptions(gctx, client, watchlist, streamer, log) })
	srv := &http.Server{Addr: ":8080", Handler: gateway.NewServer(client, log)}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("🚀 gateway HTTP surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Bar Engine + Signal Detector, co-located against the shared engine.
	g.Go(func() error {
		consumer, err := bus.NewTypedStreamConsumer[domain.Tick](gctx, redisClient, bus.StreamPrices, bus.GroupBarEngine, uuid.NewString(), log)
		if err != nil {
			return err
		}
		go runBarCloseWatcher(gctx, engine, detector, log)
		return consumer.Run(gctx, func(ctx context.Context, tick domain.Tick) error {
			engine.Ingest(tick)
			return nil
		})
	})

	// Buy Executor.
	g.Go(func() error {
		consumer, err := bus.NewTypedStreamConsumer[domain.BuySignal](gctx, redisClient, bus.StreamBuySignals, bus.GroupBuyExecutor, uuid.NewString(), log)
		if err != nil {
			return err
		}
		return consumer.Run(gctx, buyExec.HandleSignal)
	})

	// Sell Executor.
	g.Go(func() error {
		consumer, err := bus.NewTypedStreamConsumer[domain.SellOrder](gctx, redisClient, bus.StreamSellOrders, bus.GroupSellExecutor, uuid.NewString(), log)
		if err != nil {
			return err
		}
		return consumer.Run(gctx, sellExec.HandleOrder)
	})

	// Position Monitor.
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error {
		consumer, err := bus.NewTypedStreamConsumer[domain.Tick](gctx, redisClient, bus.StreamPrices, bus.GroupMonitor, uuid.NewString(), log)
		if err != nil {
			return err
		}
		return consumer.Run(gctx, m.OnTick)
	})

	// Trade Notifier.
	g.Go(func() error {
		consumer, err := bus.NewTypedStreamConsumer[domain.TradeRecord](gctx, redisClient, bus.StreamTradeNotifications, bus.GroupNotifier, uuid.NewString(), log)
		if err != nil {
			return err
		}
		return consumer.Run(gctx, notify.HandleTrade)
	})

	// Reconciliation.
	g.Go(func() error {
		loc, err := time.LoadLocation("Asia/Seoul")
		if err != nil {
			loc = time.FixedZone("KST", 9*3600)
		}
		c := cron.New(cron.WithLocation(loc))
		if _, err := reconcileJob.Schedule(c, reconcileSchedule); err != nil {
			return err
		}
		c.Start()
		<-gctx.Done()
		shutdownCtx := c.Stop()
		<-shutdownCtx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ kistrader exited with error")
	}
	log.Info().Msg("🛑 kistrader shut down")
}

func refreshSubscriptions(ctx context.Context, client *gateway.Client, watchlist *cache.TypedCache[domain.HotWatchlist], streamer *gateway.Streamer, log zerolog.Logger) error {
	ticker := time.NewTicker(subscriptionRefreshInterval)
	defer ticker.Stop()

	watch := func() {
		codes := map[string]bool{}
		if wl, err := watchlist.Get(ctx, "watchlist:active"); err == nil {
			for _, c := range wl.StockCodes() {
				codes[c] = true
			}
		}
		if positions, err := client.ListPositions(ctx); err == nil {
			for _, p := range positions {
				codes[p.Code] = true
			}
		}
		list := make([]string, 0, len(codes))
		for c := range codes {
			list = append(list, c)
		}
		streamer.Watch(list)
		log.Debug().Int("count", len(list)).Msg("🔄 refreshed tick subscriptions")
	}

	watch()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			watch()
		}
	}
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
