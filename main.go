package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"coinflow/config"
	"coinflow/internal/channel"
	"coinflow/logger"
	"coinflow/pipeline"
	"coinflow/processor"
	"coinflow/reader/coingecko"
	"coinflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Coinflow.Name,
		"version":     cfg.Coinflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting coinflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CWNamespace != "" {
		logger.InitCloudWatch(cfg.Storage.Dynamo.Region, cfg.Logging.CWNamespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.BatchBuffer)
	defer channels.Close()

	if cfg.Metrics.ChannelSize {
		go channels.StartMetricsReporting(ctx)
	}

	store := processor.NewFileStore(cfg.Cache.SnapshotPath)
	reconciler := processor.NewReconciler(cfg.Cache.MaxSize, store)
	if cfg.Cache.Hydrate {
		if err := reconciler.Hydrate(); err != nil {
			log.WithError(err).Warn("failed to hydrate cache from snapshot")
		}
	}

	reader := coingecko.NewReader(cfg)

	var persister *writer.Persister
	if cfg.Storage.Dynamo.Enabled {
		persister, err = writer.NewPersister(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create DynamoDB writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("DynamoDB storage disabled; cache-only mode")
	}

	var durable pipeline.Store
	if persister != nil {
		durable = persister
	}

	flow := pipeline.NewPipeline(cfg, reader, channels, reconciler, durable)
	if err := flow.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start pipeline")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		flow.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("coinflow stopped")
}
