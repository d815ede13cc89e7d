// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aster-volume-bot/config"
	"aster-volume-bot/engine"
	"aster-volume-bot/events"
	"aster-volume-bot/exchange"
	"aster-volume-bot/logs"
	"aster-volume-bot/monitor"
	"aster-volume-bot/orchestrator"
	"aster-volume-bot/reporter"
	"aster-volume-bot/risk"
	"aster-volume-bot/store"
	"aster-volume-bot/stream"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config file")
	flag.Parse()

	// .env is optional; real deployments export the variables directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := config.LoadEnvConfig()
	if env.ApiKey == "" || env.ApiSecret == "" {
		fmt.Fprintln(os.Stderr, "API_KEY and API_SECRET must be set in the environment or .env")
		os.Exit(1)
	}

	if err := logs.Init(cfg.Logs, filepath.Join(cfg.LogDirectory, "bot.log")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	st, err := store.NewBadgerStore(filepath.Join(cfg.DataDirectory, "badger"))
	if err != nil {
		logs.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	bus := events.NewBus()

	newClient := func() *exchange.APIClient {
		return exchange.NewAPIClient(env.ApiKey, env.ApiSecret, env.BaseURL,
			cfg.Network.HTTPTimeoutSeconds, cfg.Network.RecvWindowMs,
			int64(cfg.Network.RequestWeightLimit), int64(cfg.Network.OrderCountLimit))
	}

	// One shared client backs the metadata cache, the risk monitor and the
	// connectivity probe; each bot gets its own client and stream.
	sharedClient := newClient()
	meta := exchange.NewMetadataCache(sharedClient)

	streamCfg := stream.Config{
		MaxReconnects: cfg.Network.StreamMaxReconnects,
		BackoffBase:   time.Duration(cfg.Network.StreamBackoffBaseMs) * time.Millisecond,
		BackoffCap:    time.Duration(cfg.Network.StreamBackoffCapMs) * time.Millisecond,
		Keepalive:     time.Duration(cfg.Network.KeepaliveMinutes) * time.Minute,
	}

	factory := func(botID string, botCfg config.BotConfig) (*engine.Engine, error) {
		client := newClient()
		strm := stream.New(client, env.WSBaseURL, streamCfg)
		return engine.NewEngine(botID, botCfg, cfg.Network, client, meta, strm, st, bus), nil
	}

	orch := orchestrator.New(st, factory)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Register and start every configured bot. A bot that fails to start is
	// logged and skipped; the rest keep running.
	for _, botCfg := range cfg.Bots {
		botID, err := orch.CreateBot(rootCtx, botCfg)
		if err != nil {
			logs.Errorf("Failed to create bot for %s: %v", botCfg.Symbol, err)
			continue
		}
		if err := orch.StartBot(rootCtx, botID); err != nil {
			logs.Errorf("Failed to start bot for %s: %v", botCfg.Symbol, err)
			continue
		}
		logs.Infof("Bot %s started for %s", botID, botCfg.Symbol)
	}

	riskMonitor := risk.NewMonitor(st, sharedClient, bus,
		time.Duration(cfg.Risk.SweepIntervalSeconds)*time.Second)
	riskMonitor.Start(rootCtx)

	probeStop := make(chan struct{})
	go monitor.Start(sharedClient, probeStop)

	rep := reporter.New(orch, time.Duration(cfg.Network.StatusIntervalSeconds)*time.Second)
	go rep.Run(rootCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logs.Infof("Received signal %v, shutting down", sig)

	close(probeStop)
	riskMonitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	orch.StopAll(shutdownCtx)
	rootCancel()

	logs.Infof("Shutdown complete")
}
