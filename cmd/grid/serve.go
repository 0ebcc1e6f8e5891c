package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gridkit/grid"
	"github.com/gridkit/grid/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// runServeCommand runs the resident daemon: it serves the control-plane
// API, reconciles the registry on a timer and samples resource usage of
// live services when metrics are enabled.
func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required: use --config=grid.toml or pass the path as an argument")
	}

	cfg, err := grid.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sup, err := grid.LoadResident(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Converge recorded state with reality before taking requests.
	if err := sup.Reconcile(ctx); err != nil {
		fmt.Printf("Warning: initial reconcile failed: %v\n", err)
	}

	if err := grid.RegisterMetricsDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}
	if cfg.Sampler.Enabled {
		sampler := metrics.NewResourceSampler(cfg.Sampler, func() map[string]int {
			return sup.LivePIDs(ctx)
		})
		if err := sampler.Register(prometheus.DefaultRegisterer); err != nil {
			fmt.Printf("Warning: failed to register resource gauges: %v\n", err)
		} else {
			sampler.Start(ctx)
			defer sampler.Stop()
		}
	}

	gin.SetMode(gin.ReleaseMode)
	server, err := grid.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	go func() {
		ticker := time.NewTicker(flags.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sup.Reconcile(ctx); err != nil {
					slog.Warn("reconcile failed", "err", err)
				}
			}
		}
	}()

	fmt.Printf("Starting grid server on %s%s\n", cfg.Server.Listen, cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	return server.Close()
}
