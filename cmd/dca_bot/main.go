package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dca_bot/internal/config"
	"dca_bot/internal/logger"
	"dca_bot/internal/market"
	"dca_bot/internal/market/alpaca"
	"dca_bot/internal/market/yahoo"
	"dca_bot/internal/models"
	"dca_bot/internal/retry"
	"dca_bot/internal/runner"
	"dca_bot/internal/storage"
	"dca_bot/internal/telegram"
)

const VersionFile = "version.latest"

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred closes happen before exit.
func run() int {
	dryRun := flag.Bool("dry-run", false, "compute and log decisions without placing orders or sending alerts")
	simulate := flag.String("simulate", "", "force the weekday (tuesday, friday or any weekday name)")
	testMode := flag.Bool("test", false, "check brokerage, market data and notifications, then exit")
	configPath := flag.String("config", "", "YAML config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	flag.Parse()

	// 1. Configuration and logging
	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.DefaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
	cfg.Version = readVersion()

	closer := logger.Setup(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	defer closer.Close()
	logger.SetLevel(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		log.Printf("CRITICAL: invalid configuration: %v", err)
		return 1
	}

	opts := runner.Options{DryRun: *dryRun}
	if *simulate != "" {
		d, err := models.ParseWeekday(*simulate)
		if err != nil {
			log.Printf("CRITICAL: -simulate: %v", err)
			return 1
		}
		opts.Weekday = &d
	}

	// 2. Graceful shutdown on signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("⚠️ Shutting down: system signal received.")
		cancel()
	}()

	// 3. Collaborators
	retrier := retry.New(
		retry.WithAttempts(cfg.Retry.Attempts),
		retry.WithInitialInterval(cfg.Retry.InitialInterval),
		retry.WithOnRetry(func(attempt int, err error) {
			log.Printf("WARN: attempt %d failed, retrying: %v", attempt, err)
		}),
	)

	var broker market.Brokerage
	var alpacaProvider *alpaca.Provider
	if err := cfg.RequireBroker(); err != nil {
		log.Printf("⚠️ %v", err)
	} else {
		alpacaProvider = alpaca.NewProvider(alpaca.Options{
			APIKey:    cfg.Alpaca.KeyID,
			APISecret: cfg.Alpaca.SecretKey,
			BaseURL:   cfg.Alpaca.BaseURL,
			Feed:      cfg.Alpaca.Feed,
		})
		broker = alpacaProvider
	}

	var data market.DataProvider
	switch {
	case cfg.DataSource == "yahoo":
		data = yahoo.NewFetcher(cfg.Proxy)
	case alpacaProvider != nil:
		data = alpacaProvider
	default:
		log.Println("⚠️ Alpaca market data needs credentials, using Yahoo Finance instead")
		data = yahoo.NewFetcher(cfg.Proxy)
	}

	var notifier runner.Notifier = telegram.LogNotifier{}
	if cfg.HasTelegram() {
		notifier = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy,
			retry.New(retry.WithAttempts(cfg.Telegram.Retries+1), retry.WithInitialInterval(cfg.Retry.InitialInterval)))
	} else {
		log.Println("Warning: Telegram credentials missing, alerts go to the log only")
	}

	journal := storage.MultiJournal{storage.NewFileJournal(cfg.Journal.ReportFile)}
	if cfg.Journal.SQLitePath != "" {
		sj, err := storage.NewSQLiteJournal(cfg.Journal.SQLitePath)
		if err != nil {
			log.Printf("ERROR: sqlite journal disabled: %v", err)
		} else {
			journal = append(journal, sj)
		}
	}
	defer journal.Close()

	r, err := runner.New(cfg, data, broker, notifier, journal, retrier)
	if err != nil {
		log.Printf("CRITICAL: %v", err)
		return 1
	}

	log.Printf("DCA Bot %s initialized (%s, data=%s)", strings.TrimSpace(cfg.Version), cfg.StrategyConfig().Ticker, data.Name())

	// 4. One evaluation, then exit
	if *testMode {
		if err := r.TestConnectivity(ctx); err != nil {
			log.Printf("❌ %v", err)
			return 1
		}
		log.Println("✅ Connectivity test passed")
		return 0
	}

	if _, err := r.Run(ctx, opts); err != nil {
		log.Printf("❌ Run aborted: %v", err)
		return 1
	}
	return 0
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return string(version)
}
