package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/HenryHeth/mission-control-sub000/internal/billing"
	"github.com/HenryHeth/mission-control-sub000/internal/cache"
	"github.com/HenryHeth/mission-control-sub000/internal/config"
	"github.com/HenryHeth/mission-control-sub000/internal/historic"
	"github.com/HenryHeth/mission-control-sub000/internal/httpapi"
	"github.com/HenryHeth/mission-control-sub000/internal/snapshot"
	"github.com/HenryHeth/mission-control-sub000/internal/taskapi"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Initialize structured logger; reconfigured below once config is loaded
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mission control backend")

	// Load configuration
	slog.Info("loading configuration", "config_file", *configFile)
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger = buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("task api configuration",
		"base_url", cfg.TaskAPI.BaseURL,
		"page_size", cfg.TaskAPI.PageSize)

	// Build the aggregate cache backend
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		slog.Info("using redis cache backend", "address", cfg.Cache.Redis.Address)
		redisStore, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		}, logger)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
	default:
		store = cache.NewMemory()
	}

	// Open the last-known-good snapshot store
	var snapshots httpapi.SnapshotStore
	if cfg.Snapshot.Enabled {
		slog.Info("opening snapshot store", "path", cfg.Snapshot.Path)
		snapStore, err := snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			slog.Error("failed to open snapshot store", "error", err, "path", cfg.Snapshot.Path)
			os.Exit(1)
		}
		defer snapStore.Close()
		snapshots = snapStore
	}

	// Billing providers
	providers := make([]billing.Provider, 0, len(cfg.Billing.Providers))
	for _, pc := range cfg.Billing.Providers {
		p, err := billing.NewProvider(pc)
		if err != nil {
			slog.Error("failed to build billing provider", "provider", pc.Name, "error", err)
			os.Exit(1)
		}
		providers = append(providers, p)
	}

	// Core services
	taskClient := taskapi.New(cfg.TaskAPI)
	historicService := historic.NewService(taskClient, store, cfg.Historic, logger)

	server := httpapi.NewServer(httpapi.Options{
		Historic:      historicService,
		Snapshots:     snapshots,
		PresenceFiles: cfg.Presence.FileSet(),
		Providers:     providers,
		MemoryDir:     cfg.Memory.Dir,
		AllowedEmails: cfg.Server.AllowedEmails,
	}, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	server.SetReady()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("mission control backend stopped")
}

// buildLogger applies the configured level and format.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
