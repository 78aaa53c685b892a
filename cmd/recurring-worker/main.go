package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/services"
	"tally/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: "recurring-worker",
	})
	applog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
		} else {
			defer amqpClient.Close()
			events = amqpClient
			logger.Info("AMQP client initialized, materialized transactions will reach the export worker")
		}
	} else {
		logger.Info("AMQP disabled")
	}

	scheduler := services.NewScheduler(repo, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring scheduler configured",
		"interval", cfg.RunDueInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.RunDueInterval)
	defer ticker.Stop()

	// Catch up immediately on startup; each tick materializes at most one
	// occurrence per template, so overdue templates drain across runs.
	logger.Info("Running initial due-template pass...")
	if count, err := scheduler.RunDue(ctx, core.DateOf(time.Now())); err != nil {
		logger.Error("Initial pass failed", "error", err, "materialized", count)
	} else {
		logger.Info("Initial pass complete", "materialized", count)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				count, err := scheduler.RunDue(ctx, core.DateOf(now))
				if err != nil {
					logger.Error("Periodic pass failed", "error", err, "materialized", count)
				} else if count > 0 {
					logger.Info("Periodic pass complete", "materialized", count)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down recurring-worker...")
	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("Recurring-worker shutdown complete")
}
