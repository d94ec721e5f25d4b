// Package main is the entry point for the standalone emission worker.
// Run it with WORKER_ENABLED=false on the API server so only one process
// drains the pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"hotelfiscal/internal/app"
	"hotelfiscal/internal/config"
	"hotelfiscal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
		Service:     "hotelfiscal-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting emission worker", "store", cfg.StoreDriver,
		"interval", cfg.WorkerInterval, "batch_size", cfg.WorkerBatchSize)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize fiscal pipeline", "error", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "once" {
		stats, err := a.Worker.RunOnce(ctx)
		a.Close()
		if err != nil {
			log.Fatalw("emission cycle failed", "error", err)
		}
		log.Infow("emission cycle finished", "stats", stats)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.RunWorker(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	a.Close()
	log.Info("worker stopped")
}
