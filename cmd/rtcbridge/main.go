// Package main runs the bridge as a standalone process with a minimal
// in-process gateway, so the NATS side can be exercised without a media
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/rtcbridge/bridge"
	"github.com/c360/rtcbridge/config"
	"github.com/c360/rtcbridge/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rtcbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage()
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		cfg, err := config.LoadDir(cliCfg.ConfigDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		slog.Info("Configuration is valid", "source", cfg.Source, "config", cfg.String())
		return nil
	}

	slog.Info("Starting rtcbridge", "version", Version, "build_time", BuildTime,
		"config_dir", cliCfg.ConfigDir)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()
	gw := newGateway(logger.With("component", "gateway"))
	ctrl := bridge.NewController(gw,
		bridge.WithLogger(logger),
		bridge.WithMetricsRegistry(registry),
		bridge.WithStopTimeout(cliCfg.ShutdownTimeout),
	)
	gw.bridge = ctrl

	if err := ctrl.Init(signalCtx, cliCfg.ConfigDir); err != nil {
		return fmt.Errorf("initialize bridge: %w", err)
	}

	var metricsServer *metric.Server
	if cfg := ctrl.Config(); cfg != nil && cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Serving metrics", "address", metricsServer.Address())
	}

	gw.notifyStatus("started")
	slog.Info("rtcbridge started", "api", ctrl.IsPublicAPIEnabled(), "admin_api", ctrl.IsAdminAPIEnabled())

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")
	gw.notifyStatus("shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown bridge: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("rtcbridge shutdown complete")
	return nil
}
