// Package main is the entry point for the fiscal API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"hotelfiscal/internal/app"
	"hotelfiscal/internal/config"
	"hotelfiscal/internal/domain/auth"
	v1 "hotelfiscal/internal/infrastructure/http/v1"
	"hotelfiscal/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
		Service:     "hotelfiscal-api",
		Version:     version,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting fiscal server", "store", cfg.StoreDriver, "data_dir", cfg.DataDir)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize fiscal pipeline", "error", err)
	}

	// --- Auth ---
	var jwtValidator *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtValidator = auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
	} else {
		log.Warn("JWT_SECRET not set: admin API trusts the local network")
	}
	var peerVerifier *auth.PeerVerifier
	if cfg.PeerTokenHash != "" {
		peerVerifier = auth.NewPeerVerifier(cfg.PeerTokenHash)
	}

	routerCfg := v1.RouterConfig{
		Logger:       log,
		Repo:         a.Repo,
		Ingress:      a.Ingress,
		Emission:     a.Emission,
		Integrations: a.Registry,
		Routing:      a.Registry,
		Hub:          a.Hub,
		Version:      version,
		HealthChecks: a.Checks,
	}
	// Typed nils must not reach the interface fields.
	if jwtValidator != nil {
		routerCfg.JWTValidator = jwtValidator
	}
	if peerVerifier != nil {
		routerCfg.PeerVerifier = peerVerifier
	}
	router := v1.NewRouter(routerCfg)

	// Websocket upgrades bypass compression.
	mux := http.NewServeMux()
	mux.Handle("/api/v1/fiscal/events", router)
	mux.Handle("/", gzhttp.GzipHandler(router))

	// --- Worker ---
	var wg sync.WaitGroup
	if cfg.WorkerEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RunWorker(ctx)
		}()
	} else {
		log.Info("in-process worker disabled (WORKER_ENABLED=false)")
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	cancel()
	wg.Wait()
	a.Close()

	log.Info("server stopped")
}
