package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pacfleet/pacfleet/pkg/analyzer"
	"github.com/pacfleet/pacfleet/pkg/api"
	"github.com/pacfleet/pacfleet/pkg/auth"
	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/coordinator"
	"github.com/pacfleet/pacfleet/pkg/events"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/metrics"
	"github.com/pacfleet/pacfleet/pkg/pool"
	"github.com/pacfleet/pacfleet/pkg/state"
	"github.com/pacfleet/pacfleet/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pacfleet",
	Short: "Pacfleet - package state coordination for Arch Linux fleets",
	Long: `Pacfleet keeps the installed package sets of a fleet of Arch-family
hosts coherent. Endpoints register, push snapshots of their installed
packages, and are grouped into pools that converge on one target snapshot.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pacfleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the coordination server",
	Long: `Run the HTTP/WebSocket coordination server. All configuration is read
from PACFLEET_* environment variables; see the project README for the full
option table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogStructured,
		Output:     os.Stderr,
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	driver, err := storage.OpenDriver(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer driver.Close()

	ctx := context.Background()
	if err := storage.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	store := storage.NewStore(driver)
	metrics.RegisterComponent("database", true, "migrations applied")

	states := state.NewManager(store, cfg.SnapshotsRetainPerEndpoint)
	packages := analyzer.New(store)
	pools := pool.NewManager(store, states, packages)
	auths := auth.NewManager(store, cfg.Security)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	coord := coordinator.New(coordinator.Config{
		Store:              store,
		States:             states,
		Pools:              pools,
		Broker:             broker,
		HeartbeatThreshold: cfg.HeartbeatOfflineThreshold,
	})
	recovered, err := coord.Recover(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	if recovered > 0 {
		logger.Warn().Int("operations", recovered).Msg("recovered interrupted operations")
	}
	coord.StartWatcher()
	metrics.RegisterComponent("coordinator", true, "recovery complete")

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(cfg, api.Deps{
		Store:    store,
		Auth:     auths,
		Pools:    pools,
		States:   states,
		Analyzer: packages,
		Coord:    coord,
		Broker:   broker,
	})
	metrics.RegisterComponent("api", true, "listening")

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Drain order: stop admitting operations, wait for pipelines, then
	// close the HTTP listener.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracefulTimeout)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("coordinator shutdown incomplete")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
