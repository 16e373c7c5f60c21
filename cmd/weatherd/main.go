// Package main implements weatherd, which boots the weather dashboard
// services and serves the dashboard and diagnostics API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/weatherdash/internal/api"
	"github.com/phrazzld/weatherdash/internal/ciutil"
	"github.com/phrazzld/weatherdash/internal/config"
	"github.com/phrazzld/weatherdash/internal/platform/logger"
	"github.com/phrazzld/weatherdash/internal/services"
)

func main() {
	configPath := flag.String("config", "", "path to a weatherdash.yaml file")
	// CI logs have no terminal for the progress display
	quiet := flag.Bool("quiet", ciutil.IsCI(), "do not print startup progress")
	flag.Parse()

	if err := run(*configPath, *quiet); err != nil {
		log.Fatalf("weatherd: %v", err)
	}
}

func run(configPath string, quiet bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"cache_backend", cfg.Cache.Backend,
		"weather_key_present", cfg.Weather.APIKey != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := services.NewManager(services.Options{
		Config:   cfg,
		LogLevel: cfg.Server.LogLevel,
		Logger:   l,
	})
	defer func() {
		if err := manager.Close(context.Background()); err != nil {
			l.Error("failed to close services", "error", err)
		}
	}()

	if !quiet {
		manager.OnProgress(newProgressPrinter(os.Stderr).Print)
	}

	// A shutdown signal during startup stops the tiers not yet started
	go func() {
		<-ctx.Done()
		manager.Cancel()
	}()

	if err := manager.Initialize(ctx); err != nil {
		if errors.Is(err, services.ErrCriticalService) {
			return err
		}
		l.Warn("startup incomplete", "error", err)
	}
	logSummary(l, manager.Summary())

	if cfg.Server.Port == 0 {
		l.Info("server disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	handler := api.NewHandler(manager, manager.HealthCheck(), l)
	return startHTTPServer(ctx, cfg.Server.Port, api.NewRouter(handler), l)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func logSummary(l *slog.Logger, summary services.Summary) {
	for _, s := range summary.Services {
		switch {
		case s.Available:
			l.Info("service ready", "service", s.Name, "priority", s.Priority, "attempts", s.Attempts)
		case s.Pending:
			l.Info("service deferred", "service", s.Name)
		default:
			l.Warn("service unavailable", "service", s.Name, "error", s.Error)
		}
	}
	l.Info("startup complete",
		"available", summary.Available,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMs)
}
