package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/analytics"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/broadcast"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/config"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/decision"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/engine"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/exchange"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/leaderboard"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/logger"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/manager"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/market"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/summarizer"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/tokens"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/vault"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/web"
)

func main() {
	envPath := flag.String("env", "", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.DebugMode)

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	reg, err := settings.New(store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}
	v := vault.New(cfg.VaultMasterKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data: one shared snapshot, a single refresher task and a
	// public kline client for indicator tools.
	snap := market.NewSnapshot()
	refresher := market.NewRefresher(snap, reg, cfg.BinanceBaseURL, logger.For(log, "market"))
	go refresher.Run(ctx)
	candles := market.NewCandles(cfg.BinanceBaseURL)

	// Live execution is optional; without exchange credentials only
	// paper bots can trade.
	var adapter exchange.Adapter
	if cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != "" {
		adapter = exchange.NewBinance(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceBaseURL, logger.For(log, "exchange"))
	}

	dispatcher := llm.NewDispatcher(logger.For(log, "llm"))
	tracker := tokens.New(store, logger.For(log, "tokens"))
	summ := summarizer.New(store, dispatcher, reg, tracker, logger.For(log, "summarizer"))
	eng := engine.New(reg, snap, adapter, logger.For(log, "engine"))
	runner := decision.NewRunner(store, eng, dispatcher, tracker, summ, snap, reg,
		decision.NewToolbox(candles), logger.For(log, "decision"))

	hub := broadcast.NewHub(logger.For(log, "broadcast"))
	go func() {
		if err := hub.Run(ctx, cfg.WSPort); err != nil {
			log.Error().Err(err).Msg("broadcast hub stopped")
		}
	}()

	mgr := manager.New(store, runner, reg, v, snap, hub, logger.For(log, "manager"))
	if err := mgr.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start bot manager")
	}

	lb := leaderboard.New(store, logger.For(log, "leaderboard"))
	go lb.Run(ctx)

	go runRetention(ctx, store, reg, logger.For(log, "retention"))
	go runUsageReporter(ctx, store, tracker, logger.For(log, "usage"))

	an := analytics.New(store, logger.For(log, "analytics"))
	api := web.NewServer(cfg, store, reg, v, mgr, lb, an, tracker, dispatcher, logger.For(log, "web"))
	go func() {
		if err := api.Run(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := api.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	cancel()
	mgr.Shutdown()
}

// runRetention prunes expired decisions and snapshots once a day.
func runRetention(ctx context.Context, store *storage.Store, reg *settings.Registry, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		days := reg.Int(settings.KeyDataRetentionDays)
		n, err := store.PruneExpired(days)
		if err != nil {
			log.Error().Err(err).Msg("retention prune failed")
			continue
		}
		log.Info().Int64("rows", n).Int("retention_days", days).Msg("pruned expired rows")
	}
}

// runUsageReporter flushes unreported token usage hourly. Reporting is
// just logging here; the reported flag keeps the feed incremental.
func runUsageReporter(ctx context.Context, store *storage.Store, tracker *tokens.Tracker, log zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		users, _, err := store.ListUsers(500, 0)
		if err != nil {
			log.Error().Err(err).Msg("usage reporter failed to list users")
			continue
		}
		for _, u := range users {
			rows, err := tracker.Unreported(u.ID)
			if err != nil {
				log.Error().Err(err).Str("user_id", u.ID).Msg("failed to load unreported usage")
				continue
			}
			if len(rows) == 0 {
				continue
			}
			var cost int64
			ids := make([]string, 0, len(rows))
			for _, r := range rows {
				cost += r.TotalCost
				ids = append(ids, r.ID)
			}
			log.Info().Str("user_id", u.ID).Int("calls", len(rows)).Int64("cost_minor_units", cost).Msg("token usage reported")
			if err := tracker.MarkReported(ids); err != nil {
				log.Error().Err(err).Str("user_id", u.ID).Msg("failed to mark usage reported")
			}
		}
	}
}
