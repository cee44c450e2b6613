// rcond - Source RCON server daemon
//
// rcond listens for Source-engine RCON connections, authenticates
// clients against a shared password, tracks every command a client
// sends until an operator answers it, and exposes the open sessions
// through a REST API, an interactive CLI, and MQTT telemetry.
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
	"github.com/spf13/pflag"

	"github.com/rcond-project/rcond/internal/api"
	"github.com/rcond-project/rcond/internal/cli"
	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/db"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/scheduler"
	"github.com/rcond-project/rcond/internal/server"
	"github.com/rcond-project/rcond/internal/telemetry"
	"github.com/rcond-project/rcond/internal/util"
)

const (
	AppName    = "rcond"
	AppVersion = "1.0.0"
	Banner     = `
                          _
  _ __ ___ ___  _ __   __| |
 | '__/ __/ _ \| '_ \ / _' |
 | | | (_| (_) | | | | (_| |
 |_|  \___\___/|_| |_|\__,_|  v%s
 Source RCON server daemon
`
)

func main() {
	configDir := pflag.String("config-dir", config.DefaultConfigDir, "directory holding config.json")
	logLevel := pflag.String("log-level", "", "override log level (trace, debug, info, warn, error)")
	noCLI := pflag.Bool("no-cli", false, "disable the interactive CLI (for running under a supervisor)")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Logger with defaults first, reconfigured after config load.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting rcond")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    appData.Logging.Console,
	}
	if *logLevel != "" {
		logCfg.Level = *logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
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
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
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

	mgr := server.NewManager(cfg, eventBus)

	// Command audit persists requests and auth attempts to SQLite.
	var audit *db.AuditLog
	if appData.Audit.Enabled {
		audit, err = db.NewAuditLog(appData.Audit.DBPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open audit database, auditing disabled")
		} else {
			audit.Subscribe(eventBus)
			mgr.SetAuditLog(audit)
			defer audit.Close()
		}
	}

	sched := scheduler.NewScheduler(cfg, eventBus, mgr.Registry(), audit)

	apiServer := api.NewServer(cfg, mgr)

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		rcon := cfg.GetRcon()
		log.Info().Str("host", rcon.Host).Int("port", rcon.Port).Msg("starting RCON listener")
		if err := mgr.Start(ctx); err != nil {
			log.Error().Err(err).Msg("RCON listener failed")
			errCh <- fmt.Errorf("rcon listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if appData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

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

	if !*noCLI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cli.NewCLI(cfg, eventBus, mgr).Start(ctx)
		}()
	}

	// Shutdown on SIGINT/SIGTERM, a critical component failure, or the
	// CLI quit command.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()
	mgr.Shutdown()

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

	eventBus.Stop()

	log.Info().Msg("rcond stopped")
}
