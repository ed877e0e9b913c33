// LANLink - P2P Arena State Sync Node
//
// LANLink keeps a small arena of retro-FPS avatars synchronized across a
// LAN segment: each node broadcasts its avatar snapshot over UDP,
// reconciles incoming peer snapshots into a fixed-slot peer table,
// exposes a REST API and dashboard for remote monitoring, and publishes
// real-time telemetry via MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/api"
	"github.com/lanlink-project/lanlink/internal/cli"
	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/connector"
	"github.com/lanlink-project/lanlink/internal/db"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/health"
	"github.com/lanlink-project/lanlink/internal/lan"
	"github.com/lanlink-project/lanlink/internal/network"
	"github.com/lanlink-project/lanlink/internal/scheduler"
	"github.com/lanlink-project/lanlink/internal/sim"
	"github.com/lanlink-project/lanlink/internal/stats"
	"github.com/lanlink-project/lanlink/internal/telemetry"
	"github.com/lanlink-project/lanlink/internal/util"
)

const (
	AppName    = "LANLink"
	AppVersion = "1.0.0"
	Banner     = `
  _         _     _   _  _      _         _
 | |       / \   | \ | || |    (_) _ __  | | __
 | |      / _ \  |  \| || |    | || '_ \ | |/ /
 | |___  / ___ \ | |\  || |___ | || | | ||   <
 |_____|/_/   \_\|_| \_||_____||_||_| |_||_|\_\
                                          v%s
 P2P Arena State Sync Node & API
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	rehearse := flag.Int("rehearse", 0, "run against N scripted bots on an in-memory link instead of the real network")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		os.Exit(0)
	}

	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting LANLink")

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxSizeMB:  cfg.ApplicationData.Logging.MaxSizeMB,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
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
			if err := config.RunSetupWizard(cfg); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	nd := cfg.GetNodeData()

	// The link: real UDP broadcast, or an in-memory arena of scripted
	// bots when rehearsing. A failed bind leaves the session degraded;
	// the local loop still runs and the API stays reachable.
	var link lan.Link
	var arena *sim.Harness
	if *rehearse > 0 {
		bots := *rehearse
		if bots > lan.MaxPeers {
			log.Warn().Int("requested", bots).Int("max", lan.MaxPeers).Msg("clamping rehearsal bots to the peer table size")
			bots = lan.MaxPeers
		}
		arena = sim.NewHarness(nd.SimHz, time.Now().UnixNano())
		for i := 0; i < bots; i++ {
			arena.AddBot(fmt.Sprintf("BOT-%d", i+1))
		}
		link = arena.JoinLink()
		log.Info().Int("bots", bots).Msg("rehearsal mode: joining in-memory arena")
	} else {
		udp, err := network.NewUDPLink(ctx, nd.Port, nd.BroadcastAddr, nd.StaticPeers)
		if err != nil {
			log.Warn().Err(err).Int("port", nd.Port).Msg("UDP bind failed, running unlinked")
		} else {
			link = udp
		}
	}

	// The session owns the avatar and the peer table
	session := lan.NewSession(lan.Options{
		Callsign:    nd.Callsign,
		Team:        uint8(nd.Team),
		TeamMode:    nd.TeamMode,
		UseChecksum: nd.UseChecksum,
		Enabled:     nd.Enabled,
		TickHz:      nd.SimHz,
		Link:        link,
		Bus:         eventBus,
	})

	// Monitoring components
	tracker := stats.NewTracker(session)
	tracker.Attach(eventBus)
	stalls := health.NewStallMonitor(eventBus)
	healthMgr := health.NewManager(cfg, eventBus, session, tracker, stalls)

	// Journal (SQLite event store)
	journal, err := db.NewJournal(cfg.GetApplicationData().Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open journal")
	}
	journal.Attach(eventBus)

	// Outbound webhook notifications
	connector.NewWebhookConnector(cfg, eventBus)

	// MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Scheduler (journal maintenance, log pruning)
	sched := scheduler.NewScheduler(cfg, eventBus, journal)

	// REST API
	apiServer := api.NewServer(cfg, eventBus, session)
	apiServer.SetDependencies(tracker, stalls, journal)

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, session, tracker, journal)

	// Avatar pilot (drives the local avatar when no frontend is attached)
	pilot := sim.NewPilot(session, nd.Pilot)

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 10)

	// Task 1: the frame loop. Start returns immediately; the loop runs
	// until the context is cancelled and is joined by session.Stop below.
	log.Info().Int("tick_hz", nd.SimHz).Msg("starting arena session")
	session.Start(ctx)

	// Rehearsal bots run their own sessions and pilots
	if arena != nil {
		arena.Start(ctx)
	}

	// Task 2: REST API server (with retry for port binding)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", nd.APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
			log.Error().Err(err).Msg("API server failed after retries")
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Task 3: Health check manager
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	// Task 4: MQTT telemetry
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

	// Task 5: Scheduler
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 6: Interactive CLI
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// Task 7: Avatar pilot
	wg.Add(1)
	go func() {
		defer wg.Done()
		pilot.Run(ctx)
	}()

	// Announce the node to the webhook, if one is configured
	eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyWebhook,
		Source: "main",
		Payload: events.NotifyWebhookPayload{
			Title:   "Node Online",
			Message: fmt.Sprintf("%s entered the arena", session.View().Self.Callsign),
			Level:   "info",
		},
	})

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// A "quit" typed at the CLI arrives as a bus event rather than a signal.
	quitCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case quitCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested via event bus")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Offline notice goes out synchronously while the context is still
	// live, so the HTTP post is not cut off mid-flight.
	if err := eventBus.EmitSync(ctx, events.Event{
		Type:   events.EventNotifyWebhook,
		Source: "main",
		Payload: events.NotifyWebhookPayload{
			Title:   "Node Offline",
			Message: fmt.Sprintf("%s left the arena", session.View().Self.Callsign),
			Level:   "warning",
		},
	}); err != nil {
		log.Debug().Err(err).Msg("offline notice failed")
	}

	// Cancel the root context to signal all goroutines
	cancel()

	// Emit shutdown event
	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	// Wait for all goroutines with timeout
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

	// Join the frame loop and release the link
	session.Stop()
	if arena != nil {
		arena.Close()
	}

	if err := journal.Close(); err != nil {
		log.Warn().Err(err).Msg("journal close failed")
	}

	// Stop the event bus last. MQTT publishes its own shutdown notice
	// and disconnects inside its task when the context is cancelled.
	eventBus.Stop()

	log.Info().Msg("LANLink stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Uses a fixed 3-second interval between retries, giving the OS time to
// release a port still held by a killed predecessor.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
