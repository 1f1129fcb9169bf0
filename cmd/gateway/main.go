// Command gateway runs the Broker Gateway: the KIS token/rate-limit/
// circuit-breaker-wrapped HTTP client, the WebSocket tick ingester, and the
// internal REST surface every other daemon calls through.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/domain"
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
)

const subscriptionRefreshInterval = 5 * time.Minute

// refreshSubscriptions periodically re-derives the WebSocket watch list from
// the active watchlist plus every held position, so a newly-scored or
// newly-bought code starts streaming ticks without a gateway restart.
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

func main() {
	log := logging.New("gateway")

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
	streamer := gateway.NewStreamer(cfg.KIS.WSURL, gateway.NewTokenManager(cfg.KIS), redisClient, log)
	watchlist := cache.NewTypedCache[domain.HotWatchlist](redisClient)

	g, gctx := errgroup.WithContext(ctx)
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

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("❌ gateway exited with error")
	}
	log.Info().Msg("🛑 gateway shut down")
}
