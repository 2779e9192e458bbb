package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gatekeeper/bot"
	"github.com/web3guy0/gatekeeper/core"
	"github.com/web3guy0/gatekeeper/feeds"
	"github.com/web3guy0/gatekeeper/internal/config"
	"github.com/web3guy0/gatekeeper/metrics"
	"github.com/web3guy0/gatekeeper/prediction"
	"github.com/web3guy0/gatekeeper/storage"
)

const version = "1.0.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msgf("              GATEKEEPER v%s - TRADE GATING", version)
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	gating, err := config.LoadGating(cfg.GatingConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.GatingConfigPath).Msg("Failed to load gating config")
	}
	log.Info().
		Float64("min_confidence", gating.MinConfidence).
		Float64("min_coherence", gating.MinCoherence).
		Float64("min_stability", gating.MinStability).
		Strs("exchanges", gating.AllowedExchanges).
		Msg("✅ Gating config loaded")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	var snapshots core.SnapshotStore = storage.NewFileSnapshotStore(cfg.SnapshotPath)
	if db.IsEnabled() {
		snapshots = db
	}

	journal, err := prediction.OpenFileJournal(cfg.PredictionJournalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open prediction journal")
	}
	defer journal.Close()
	log.Info().Msg("✅ Storage layer initialized")

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	// 3. Price feed (for prediction validation)
	priceFeed := feeds.NewBinanceFeed(cfg.PriceSymbols)
	priceFeed.Start()
	log.Info().Msg("✅ Price feed initialized")

	// 4. Core engine
	engine := core.NewEngine(core.ConfigFrom(cfg), gating, core.Deps{
		Database:    db,
		Journal:     journal,
		Snapshots:   snapshots,
		Metrics:     recorder,
		PriceLookup: priceFeed.Lookup,
	})

	recoveredOrders, recoveredPredictions, err := engine.Recover()
	if err != nil {
		log.Fatal().Err(err).Msg("Startup recovery failed")
	}
	log.Info().
		Int("orders", recoveredOrders).
		Int("predictions", recoveredPredictions).
		Msg("✅ Core engine initialized")

	// 5. Telegram (optional)
	var tgBot *bot.TelegramBot
	if cfg.TelegramToken != "" {
		tgBot, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, engine)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram disabled")
		} else {
			engine.SetNotifier(tgBot)
		}
	}

	// 6. Admin HTTP
	server := NewServer(cfg.HTTPAddr, engine, registry)

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	engine.Start()

	if tgBot != nil {
		tgBot.Start()
		tgBot.NotifyStartup(recoveredOrders, recoveredPredictions)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Admin HTTP shutdown failed")
	}

	engine.Stop()
	priceFeed.Stop()
	if tgBot != nil {
		tgBot.Stop()
	}

	// Summary
	stats := engine.Stats()
	log.Info().
		Int64("approved", stats.Orders.Approved).
		Int64("confirmed", stats.Orders.ConfirmedFills).
		Int64("ghosts", stats.Orders.GhostOrders).
		Float64("accuracy", stats.Predictions.Accuracy).
		Msg("👋 Gatekeeper stopped")
}
