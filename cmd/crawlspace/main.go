// crawlspace is a limbo server for Minecraft 1.21.1.
//
// It accepts vanilla clients (directly or behind a Velocity proxy), walks
// them through login and configuration, and parks them in a small
// preloaded world while it keeps the connection alive. Alongside the game
// listener it runs an admin REST API, a SQLite session audit log, optional
// MQTT telemetry and an optional Redis presence mirror.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoogware/crawlspace/internal/api"
	"github.com/xoogware/crawlspace/internal/cli"
	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/db"
	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/health"
	"github.com/xoogware/crawlspace/internal/network"
	"github.com/xoogware/crawlspace/internal/scheduler"
	"github.com/xoogware/crawlspace/internal/session"
	"github.com/xoogware/crawlspace/internal/telemetry"
	"github.com/xoogware/crawlspace/internal/util"
	"github.com/xoogware/crawlspace/internal/world"
)

const AppVersion = "0.1.0"

func main() {
	fmt.Println(cli.Banner(AppVersion))
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	logCloser, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting crawlspace")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}

	settings := cfg.Snapshot()
	logCloser.Close()
	logCloser, err = util.InitLogger(util.LogConfig{
		Level:      settings.Logging.Level,
		Directory:  settings.Logging.Directory,
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxBackups: settings.Logging.MaxBackups,
		MaxAgeDays: settings.Logging.MaxAgeDays,
		Console:    true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to reconfigure logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if cfg.IsFirstRun() {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}
	settings = cfg.Snapshot()
	core := cfg.Core()

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("local_ip", sysInfo.LocalIP).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The world is loaded before anything listens; a bad world never
	// accepts a client.
	store, err := loadWorld(ctx, core)
	if err != nil {
		log.Fatal().Err(err).Bool("fatal_load", errors.Is(err, world.ErrFatalLoad)).Msg("failed to load world")
	}
	stats := store.Stats()
	log.Info().
		Int("radius", stats.Radius).
		Int("chunks", stats.Chunks).
		Int("bytes", stats.Bytes).
		Int64("load_ms", stats.LoadTimeMS).
		Msg("world loaded")

	eventBus := events.NewEventBus()
	sessions := session.NewRegistry(core.MaxPlayers)
	started := time.Now()

	listener, err := network.NewListener(core, store, sessions, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create game listener")
	}

	var audit *db.AuditLog
	if settings.Database.Enabled {
		audit, err = db.NewAuditLog(ctx, settings.Database.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open session audit log, auditing disabled")
		} else {
			audit.Attach(eventBus)
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if settings.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(settings.MQTT, settings.Redis.Instance, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var presence *telemetry.Presence
	if settings.Redis.Enabled {
		presence = telemetry.NewPresence(settings.Redis)
	}

	healthMgr := health.NewManager(cfg, eventBus, sessions, listener)

	deps := api.Dependencies{
		Sessions: sessions,
		Status:   listener.Status(),
		Conns:    listener,
		World:    stats,
		Started:  started,
	}
	if audit != nil {
		deps.Audit = audit
	}
	if presence != nil {
		deps.Cluster = presence
	}
	apiServer := api.NewServer(cfg, eventBus, deps)

	cliHandler := cli.NewCLI(eventBus, sessions, listener.Status(), listener)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main.quit", func(_ context.Context, e events.Event) error {
		if e.Source == "cli" {
			quitOnce.Do(func() { close(quitCh) })
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "game listener", listener.Start, 5); err != nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	if settings.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if audit != nil {
		sched := scheduler.NewScheduler(settings.Database, audit)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if presence != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := presence.Start(ctx, eventBus); err != nil {
				log.Warn().Err(err).Msg("redis presence disabled")
			}
		}()
	}

	// The console goroutine is not waited for; it may be parked on stdin.
	go cliHandler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reason := "signal"
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		reason = "console"
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		reason = "error"
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Telemetry consumers publish while their connections are still up.
	if reason != "console" {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		eventBus.EmitSync(shutdownCtx, events.Event{
			Type:    events.EventShutdown,
			Source:  "main",
			Payload: events.ShutdownPayload{Reason: reason},
		})
		shutdownCancel()
	}

	sessions.DisconnectAll(network.ReasonServerClosed)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Drains player_left handlers before the audit log goes away.
	eventBus.Stop()

	if audit != nil {
		if err := audit.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session audit log")
		}
	}

	log.Info().Msg("crawlspace stopped")
}

// loadWorld builds the block table and preloads every chunk inside the
// border radius.
func loadWorld(ctx context.Context, core config.Core) (*world.Store, error) {
	blocks, err := world.LoadBlockTable(core.BlocksReport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", world.ErrFatalLoad, err)
	}
	if core.Void {
		return world.NewVoid(core.BorderRadius, blocks)
	}
	return world.Load(ctx, core.WorldDir, core.BorderRadius, blocks)
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
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
