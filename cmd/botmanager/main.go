package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/bus"
	"github.com/lukelocksmith/vexa/internal/botmanager/config"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dbmanager"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/postgres"
	"github.com/lukelocksmith/vexa/internal/botmanager/orchestrator"
	"github.com/lukelocksmith/vexa/internal/botmanager/reaper"
	"github.com/lukelocksmith/vexa/internal/botmanager/server"
	"github.com/lukelocksmith/vexa/internal/common/logtrace"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	flag.StringVar(&opt.configFile, "config", "", "path to the TOML config file (optional; env vars override)")
	flag.Parse()
	return opt
}

func run(ctx context.Context) error {
	slog := log.With().Str("state", "init").Logger()

	opt := parseFlags()

	slog.Info().Str("config_file", opt.configFile).Msg("loading configuration")
	if err := config.LoadConfig(opt.configFile); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if config.Config().Store.URL == "" {
		return fmt.Errorf("store url not defined (STORE_URL)")
	}

	// State store
	pool, err := dbmanager.NewPostgresqlDb(ctx, config.Config().Store.URL)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer pool.Close()

	store := postgres.New(pool)
	if appErr := store.ApplySchema(ctx); appErr != nil {
		return fmt.Errorf("applying schema: %w", appErr)
	}

	// Command bus
	cmdBus, err := newCommandBus()
	if err != nil {
		return fmt.Errorf("connecting to command bus: %w", err)
	}
	defer cmdBus.Close()

	// Container orchestrator
	orch, err := newOrchestrator()
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	// HTTP surface
	srv, err := server.CreateNewServer(store, cmdBus, orch)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.MountHandlers()

	httpServer := &http.Server{
		Addr:              ":" + config.Config().ServerPort,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("port", config.Config().ServerPort).Msg("bot manager listening")
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Reaper
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reaper.New(store, orch, reaper.ThresholdsFromConfig()).Run(reaperCtx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutdown started")

		stopReaper()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}

// newCommandBus selects the bus backend from BUS_URL. An amqp scheme uses
// the broker; "mem://" (or empty) runs the in-process bus, which only makes
// sense when workers run in the same process.
func newCommandBus() (bus.CommandBus, error) {
	busURL := config.Config().Bus.URL
	if busURL == "" || busURL == "mem://" {
		log.Warn().Msg("no BUS_URL configured, using in-process command bus")
		return bus.NewMemBus(), nil
	}
	return bus.NewAMQPBus(busURL)
}

// newOrchestrator selects the container runtime from ORCH_KIND.
func newOrchestrator() (orchestrator.Orchestrator, error) {
	switch config.Config().OrchKind {
	case "local":
		return orchestrator.NewDockerOrchestrator()
	case "cluster":
		return nil, fmt.Errorf("cluster orchestrator is not available in this build")
	default:
		return nil, fmt.Errorf("unknown orchestrator kind: %s", config.Config().OrchKind)
	}
}
