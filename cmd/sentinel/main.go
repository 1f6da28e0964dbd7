package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OptionSentinel/internal/book"
	"OptionSentinel/internal/collector"
	"OptionSentinel/internal/config"
	"OptionSentinel/internal/notifier"
	"OptionSentinel/internal/recorder"
	"OptionSentinel/internal/risk"
	"OptionSentinel/internal/scheduler"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] OptionSentinel starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Init fetcher
	var fetcher collector.Fetcher
	switch cfg.DataSource.Provider {
	case "vstrader":
		fetcher = collector.NewVsTraderFetcher(cfg.DataSource.BaseURL, cfg.DataSource.APIKey, cfg.Proxy)
	case "static":
		fetcher = &collector.StaticFetcher{Prices: cfg.DataSource.Quotes}
	default:
		fetcher = collector.NewYahooFetcher(cfg.Proxy)
	}
	log.Printf("[INFO] data source: %s", fetcher.Name())

	col := collector.NewCollector(fetcher, time.Duration(cfg.DataSource.CacheTTL)*time.Second)

	// Load book and state
	b, err := book.Load(cfg.Book.File)
	if err != nil {
		log.Fatalf("[FATAL] load book: %v", err)
	}
	log.Printf("[INFO] book loaded: %d positions from %s", len(b.Positions), cfg.Book.File)

	sm, err := book.NewStateManager(cfg.Book.StateFile)
	if err != nil {
		log.Fatalf("[FATAL] init book state: %v", err)
	}
	rv := book.NewRevaluer(b, col, sm, cfg.Pricing.Rate, cfg.Pricing.Workers, cfg.Pricing.MaxAgeDays)

	// Init Telegram notifier
	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limits := risk.Limits{
		Delta:        cfg.Limits.Delta,
		Vega:         cfg.Limits.Vega,
		ValueDropPct: cfg.Limits.ValueDropPct,
	}
	sched := scheduler.NewScheduler(ctx, col, rv, tn, rec, limits, cfg.Book.File)
	if err := sched.RegisterAll(cfg.Schedule.RevalueCron, cfg.Schedule.ExpiryCron, cfg.Schedule.SummaryCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	go tn.StartPolling(ctx, sched.HandleCommand)
	log.Println("[INFO] Telegram polling started")

	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, revaluing book now")
		go sched.RunNow()
	}

	log.Println("[INFO] OptionSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] OptionSentinel stopped")
}
