// Command reconciler runs the scheduled jobs that keep the local book
// honest: a periodic broker-vs-local position reconciliation, and an
// end-of-day asset snapshot mirrored to object storage.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"kis-trader/internal/cache"
	"kis-trader/internal/config"
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
	"kis-trader/internal/persistence"
	"kis-trader/internal/reconciliation"
)

const (
	reconcileSchedule   = "*/15 9-15 * * MON-FRI" // every 15 minutes during the trading session
	eodSnapshotSchedule = "35 15 * * MON-FRI"     // shortly after the 15:30 KST close
)

func main() {
	log := logging.New("reconciler")

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

	archiver, err := persistence.NewArchiver(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ archiver setup failed")
	}

	client := gateway.New(cfg.KIS, log)
	job := reconciliation.New(cfg, client, db, redisClient, log)

	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*3600)
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := job.Schedule(c, reconcileSchedule); err != nil {
		log.Fatal().Err(err).Msg("❌ reconciliation schedule failed")
	}
	if _, err := c.AddFunc(eodSnapshotSchedule, func() {
		runEODSnapshot(context.Background(), client, db, archiver, log)
	}); err != nil {
		log.Fatal().Err(err).Msg("❌ EOD snapshot schedule failed")
	}

	c.Start()
	log.Info().Msg("🚀 reconciler scheduled jobs running")
	<-ctx.Done()
	shutdownCtx := c.Stop()
	<-shutdownCtx.Done()
	log.Info().Msg("🛑 reconciler shut down")
}

func runEODSnapshot(ctx context.Context, client *gateway.Client, db *persistence.Database, archiver *persistence.Archiver, log zerolog.Logger) {
	cash, err := client.Balance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("❌ EOD snapshot: balance fetch failed")
		return
	}
	positions, err := client.ListPositions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("❌ EOD snapshot: positions fetch failed")
		return
	}

	var stockEval float64
	for _, p := range positions {
		stockEval += p.TotalBuyAmount
	}

	today := time.Now()
	snap := persistence.DailyAssetSnapshot{
		Date:            time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location()),
		TotalAsset:      cash + stockEval,
		CashBalance:     cash,
		StockEvalAmount: stockEval,
		PositionCount:   len(positions),
	}
	if err := db.SaveDailyAssetSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Msg("❌ EOD snapshot: save failed")
		return
	}

	logs, err := db.DailyTradeLogs(ctx, today)
	if err != nil {
		log.Error().Err(err).Msg("❌ EOD snapshot: trade log fetch failed")
		return
	}
	if err := archiver.ArchiveDay(ctx, snap, logs); err != nil {
		log.Error().Err(err).Msg("❌ EOD snapshot: archival failed")
		return
	}
	log.Info().Float64("total_asset", snap.TotalAsset).Msg("📸 EOD asset snapshot archived")
}
