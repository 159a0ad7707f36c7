package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/atmosphere-mesh/corenode/internal/config"
	"github.com/atmosphere-mesh/corenode/internal/daemon"
	"github.com/atmosphere-mesh/corenode/internal/telemetry"
	"github.com/atmosphere-mesh/corenode/internal/watchdog"
	"github.com/atmosphere-mesh/corenode/pkg/atmosphere"
)

func runStart(args []string) {
	if err := doStart(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func doStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to config file")
	// This build only ever runs attached; --foreground is accepted so
	// scripts written for a detaching daemon keep working unmodified.
	fs.Bool("foreground", true, "run attached to the terminal (always true in this build)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, configDir, cfgFile, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}
	if err := config.ValidateNodeConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.Default()
	if err := config.Archive(cfgFile); err != nil {
		logger.Warn("failed to archive last-known-good config", "error", err)
	}

	node, err := atmosphere.CreateNode(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer node.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.NewMetrics(version, runtime.Version())
	audit := telemetry.NewAuditLogger(logger.Handler())
	node.SetMetrics(metrics)

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer node.Stop()

	socketPath, cookiePath := daemonPaths(configDir)
	srv := daemon.NewServer(node, socketPath, cookiePath, version)
	srv.SetInstrumentation(metrics, audit)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start control socket: %w", err)
	}
	defer srv.Stop()

	if cfg.Telemetry.Metrics.Enabled {
		addr := cfg.Telemetry.Metrics.ListenAddress
		if addr == "" {
			addr = "127.0.0.1:9091"
		}
		metricsSrv := &http.Server{Addr: addr, Handler: metrics.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	go watchdog.Run(ctx, watchdog.Config{Interval: 30 * time.Second}, []watchdog.HealthCheck{
		{Name: "supervisor_running", Check: func() error {
			h := node.Health()
			if h.PeerID == "" {
				return fmt.Errorf("supervisor reports no peer id")
			}
			return nil
		}},
	})

	logger.Info("atmospherenode started", "peer_id", node.PeerID().String(), "mesh_port", node.Health().MeshPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case <-srv.ShutdownCh():
		logger.Info("shutdown requested via control socket")
	}
	return nil
}
