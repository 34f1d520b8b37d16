package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/manager"
	"github.com/cuemby/corral/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet orchestrator",
	Long: `Serve starts the orchestration core against the local container
runtime: durable instruction queues, assistant sessions, health
monitoring, log collection, usage accounting and the operational
HTTP listener.

Configuration is read from corral.yaml (or --config) and from
CORRAL_* environment variables. Health settings are reloaded when
the config file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(configPath)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to config file (default: search for corral.yaml)")
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)

	fmt.Println("Starting Corral...")
	fmt.Printf("  Store: %s\n", cfg.Store.Driver)
	fmt.Printf("  Queue: %s\n", cfg.Queue.Path)
	if cfg.Manifest.Path != "" {
		fmt.Printf("  Manifest: %s\n", cfg.Manifest.Path)
	}
	fmt.Println()

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		_ = mgr.Shutdown() // Release whatever came up before the failure
		return fmt.Errorf("failed to start manager: %w", err)
	}
	fmt.Println("✓ Fleet manager started")

	// Operational HTTP listener in background
	var opsServer *http.Server
	errCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())

		opsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("operational listener error: %w", err)
			}
		}()
		fmt.Printf("✓ Operational listener on %s\n", cfg.Metrics.Address)
	}

	// Hot-reload health thresholds on config file changes. Watching
	// needs a config file on disk; env-only setups run without it.
	if err := config.WatchConfig(configPath, func(next *config.Config) {
		mgr.UpdateHealthConfig(next.Health)
	}); err != nil {
		log.WithComponent("serve").Warn().Err(err).Msg("Config reload disabled")
	}

	fmt.Println()
	fmt.Println("Corral is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or listener error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	if opsServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := opsServer.Shutdown(stopCtx); err != nil {
			log.WithComponent("serve").Warn().Err(err).Msg("Failed to stop listener cleanly")
		}
		stopCancel()
	}

	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
