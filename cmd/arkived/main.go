package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arkived/internal/logger"
	"arkived/pkg/api"
	"arkived/pkg/backup"
	"arkived/pkg/config"
	"arkived/pkg/events"
	"arkived/pkg/index"
	"arkived/pkg/memory"
	"arkived/pkg/metrics"
	"arkived/pkg/scheduler"
	"arkived/pkg/storage"
	"arkived/pkg/token"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to the XDG config dir)")
	initConfig := flag.Bool("init-config", false, "Write a default config file to the given -config path and exit")
	logLevel := flag.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")

	flag.Parse()

	if *initConfig {
		if *configPath == "" {
			log.Fatalf("-init-config requires -config to name the target file")
		}
		if err := config.WriteDefault(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.Configure(cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	fmt.Println("Arkived - Personal Archival Service")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Storage root: %s", cfg.Storage.Root)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Prometheus metrics enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(cfg.Events.AllowedTopicPrefixes)

	cache, err := config.CreateIndexCache(&cfg.Index)
	if err != nil {
		log.Fatalf("Failed to open index cache: %v", err)
	}
	if cache != nil {
		defer cache.Close()
		logger.Info("Index id cache enabled at %s", cfg.Index.CacheDir)
	}

	ix, err := index.New(cfg.Storage.Root, cache)
	if err != nil {
		log.Fatalf("Failed to initialize metadata index: %v", err)
	}

	manager, err := storage.NewManager(cfg.Storage.Root, ix, hub)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	manager.SetMetrics(metrics.NewArchiveMetrics())

	tokens, err := token.NewStore(cfg.Tokens.RegistryPath)
	if err != nil {
		log.Fatalf("Failed to open token registry: %v", err)
	}

	var mem *memory.Store
	if cfg.Memory.Enabled {
		mem, err = memory.Open(cfg.Memory.DBPath)
		if err != nil {
			log.Fatalf("Failed to open memory store: %v", err)
		}
		defer mem.Close()
		logger.Info("Memory store enabled at %s", cfg.Memory.DBPath)
	}

	replicator, err := config.CreateReplicator(ctx, &cfg.Backup)
	if err != nil {
		log.Fatalf("Failed to configure backup replication: %v", err)
	}
	if replicator != nil {
		logger.Info("Offsite backup replication enabled")
	}

	sources := backup.Sources{
		TokenRegistryPath: cfg.Tokens.RegistryPath,
		StorageRoot:       cfg.Storage.Root,
		Index:             ix,
		Memory:            mem,
	}

	engine, err := backup.NewEngine(cfg.Backup.Dir, sources, replicator, hub)
	if err != nil {
		log.Fatalf("Failed to initialize backup engine: %v", err)
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg, manager, engine, mem, hub)
		go sched.Run(ctx)
		logger.Info("Scheduler started (backup every %v, maintenance every %v)",
			cfg.Scheduler.BackupInterval, cfg.Scheduler.MaintenanceInterval)
	}

	srv := api.NewServer(&cfg.Server, tokens, manager, ix, engine, hub, mem, metrics.NewHTTPMetrics())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on %s:%d. Press Ctrl+C to stop.", cfg.Server.ListenAddress, cfg.Server.Port)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}
