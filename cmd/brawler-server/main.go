// Brawler server - authoritative match host for the arena brawler.
//
// The server runs the match loop over ENet, answers LAN discovery probes,
// records finished matches in SQLite, exposes a REST API for operators,
// and optionally publishes telemetry via MQTT and alerts via webhook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/api"
	"github.com/networkbrawler/brawler/internal/cli"
	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/connector"
	"github.com/networkbrawler/brawler/internal/db"
	"github.com/networkbrawler/brawler/internal/events"
	"github.com/networkbrawler/brawler/internal/health"
	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/network/enet"
	"github.com/networkbrawler/brawler/internal/protocol"
	"github.com/networkbrawler/brawler/internal/replication"
	"github.com/networkbrawler/brawler/internal/scheduler"
	"github.com/networkbrawler/brawler/internal/server"
	"github.com/networkbrawler/brawler/internal/telemetry"
	"github.com/networkbrawler/brawler/internal/util"
)

const (
	AppName    = "brawler-server"
	AppVersion = "1.0.0"
	Banner     = `
  ____                     _
 | __ ) _ __ __ ___      _| | ___ _ __
 |  _ \| '__/ _' \ \ /\ / / |/ _ \ '__|
 | |_) | | | (_| |\ V  V /| |  __/ |
 |____/|_|  \__,_| \_/\_/ |_|\___|_|   v%s
 Arena server, protocol %d
`
)

func main() {
	fmt.Printf(Banner, AppVersion, protocol.Version)
	fmt.Println()

	// Console only until the config tells us where the files go.
	if err := util.InitLogger(util.LogConfig{App: AppName, Level: "info", Console: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting brawler server")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		App:        AppName,
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	srvCfg := cfg.GetServer()

	// ---------------------------------------------------------------
	// Transport and loop
	// ---------------------------------------------------------------
	host, err := enet.Listen(uint16(srvCfg.GamePort), uint64(srvCfg.MaxPeers), network.NewPeerRegistry())
	if err != nil {
		log.Fatal().Err(err).Int("port", srvCfg.GamePort).Msg("failed to open game port")
	}

	loop := server.New(host, eventBus, server.Options{
		Settings:        cfg.GetMatch().Settings(),
		TickDelay:       replication.TickDelay,
		MaxTickLag:      srvCfg.MaxTickLag,
		ProtocolVersion: protocol.Version,
		IdleTimeout:     time.Duration(srvCfg.IdleTimeoutSec) * time.Second,
	})
	board := loop.Board()
	lagMonitor := server.NewLagMonitor(eventBus)

	// ---------------------------------------------------------------
	// Match history
	// ---------------------------------------------------------------
	storage := cfg.GetStorage()
	var results api.Results
	var store *db.MatchStore
	if storage.DatabasePath != "" {
		store, err = db.NewMatchStore(storage.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Str("path", storage.DatabasePath).Msg("failed to open match store, history disabled")
			store = nil
		} else {
			store.Subscribe(eventBus)
			results = store
		}
	}

	// ---------------------------------------------------------------
	// Operator surfaces
	// ---------------------------------------------------------------
	deps := api.Dependencies{
		Board:   board,
		Control: loop,
		Lag:     lagMonitor,
		Results: results,
		Peers:   host.Registry(),
	}
	apiServer := api.NewServer(cfg, eventBus, deps)
	cliHandler := cli.NewCLI(cfg, eventBus, deps, os.Stdout)

	notifier := connector.NewWebhookNotifier(cfg.GetWebhook(), srvCfg.Name, eventBus)
	if notifier.Enabled() {
		notifier.Subscribe()
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.GetMQTT(), srvCfg.Name, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	timers := cfg.GetTimers()
	healthMgr := health.NewManager(timers, eventBus, board, lagMonitor, storage.DatabasePath)

	var pruner scheduler.Pruner
	if store != nil {
		pruner = store
	}
	sched := scheduler.NewScheduler(storage, timers, pruner, board)

	var discovery *network.DiscoveryResponder
	if disc := cfg.GetDiscovery(); disc.Enabled {
		discovery = network.NewDiscoveryResponder(disc.Port, func() network.ServerInfo {
			m := board.Snapshot().Match
			return network.ServerInfo{
				Name:            srvCfg.Name,
				ProtocolVersion: protocol.Version,
				Phase:           m.Phase,
				Players:         uint8(min(len(m.Players), 255)),
			}
		})
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: the match loop owns the ENet host; nothing else may touch it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", srvCfg.GamePort).Msg("starting match loop")
		if err := loop.Run(ctx); err != nil {
			errCh <- fmt.Errorf("match loop: %w", err)
		}
	}()

	// Task 2: discovery responder
	if discovery != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetDiscovery().Port).Msg("starting discovery responder")
			if err := startWithRetry(ctx, "discovery", discovery.Start, 5); err != nil {
				log.Warn().Err(err).Msg("discovery responder failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: REST API
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", srvCfg.APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	// Task 4: lag monitor
	wg.Add(1)
	go func() {
		defer wg.Done()
		lagMonitor.Start(ctx, time.Duration(timers.LagCheckInterval)*time.Second)
	}()

	// Task 5: health checks
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	// Task 6: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 7: scheduler (history pruning, loop stats)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 8: interactive console. It blocks on stdin, so it is not waited for.
	go func() {
		cliHandler.Start(ctx, os.Stdin)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested from console")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	if err := host.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close enet host")
	}
	if err := apiServer.Stop(); err != nil {
		log.Debug().Err(err).Msg("API server stop")
	}

	// Flush the last match record before the store goes away.
	eventBus.Stop()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close match store")
		}
	}

	log.Info().Msg("brawler server stopped")
}

// startWithRetry attempts to start a listener with retry on bind errors.
// A restarted server can briefly find its old sockets still bound.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil || ctx.Err() != nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
