// Package main is the entry point for the MAL profiler analytics server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skoulos/mal_analytics/internal/api"
	"github.com/skoulos/mal_analytics/internal/config"
	"github.com/skoulos/mal_analytics/internal/parser"
	"github.com/skoulos/mal_analytics/internal/receiver"
	"github.com/skoulos/mal_analytics/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	log.Println("Starting MAL profiler analytics server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	scope, err := parser.ParseScope(cfg.Parser.VariableScope)
	if err != nil {
		log.Fatalf("Invalid parser configuration: %v", err)
	}

	ctx := context.Background()

	// A sink that cannot initialize its schema is fatal.
	sink, err := storage.NewSink(ctx, storage.Config{
		Backend:            cfg.Storage.Backend,
		SQLitePath:         cfg.Storage.SQLitePath,
		ClickHouseAddr:     cfg.Storage.ClickHouseAddr,
		ClickHouseDatabase: cfg.Storage.ClickHouseDatabase,
		BatchSize:          cfg.Storage.BatchSize,
	}, logger)
	if err != nil {
		log.Fatalf("Creating storage sink: %v", err)
	}

	p, err := parser.New(ctx, sink, parser.WithScope(scope), parser.WithLogger(logger))
	if err != nil {
		log.Fatalf("Creating parser: %v", err)
	}
	log.Printf("Counters resume from %+v (variable scope: %s)", p.Limits(), scope)

	ingest := receiver.NewHTTPReceiver(cfg.Ingest.Addr, p, logger)
	apiServer := api.NewServer(cfg.API.Addr, sink)

	// Start pprof server for profiling (separate port)
	go func() {
		log.Printf("Starting pprof server on http://%s/debug/pprof", cfg.Pprof.Addr)
		if err := http.ListenAndServe(cfg.Pprof.Addr, nil); err != nil {
			log.Printf("pprof server error: %v", err)
		}
	}()

	// Start servers in goroutines
	errChan := make(chan error, 2)

	go func() {
		log.Printf("Starting profiler ingest receiver on %s", cfg.Ingest.Addr)
		if err := ingest.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("ingest receiver error: %w", err)
		}
	}()

	go func() {
		log.Printf("Starting REST API server on %s", cfg.API.Addr)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	log.Println("Ingest endpoint:")
	log.Printf("  - POST http://%s/v1/profiler (newline-delimited JSON)", cfg.Ingest.Addr)
	log.Println("API endpoints:")
	log.Printf("  - Executions: http://%s/api/v1/executions", cfg.API.Addr)
	log.Printf("  - Heartbeats: http://%s/api/v1/heartbeats", cfg.API.Addr)
	log.Printf("  - Limits: http://%s/api/v1/limits", cfg.API.Addr)
	log.Printf("  - Health: http://%s/health", cfg.API.Addr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v, shutting down...", sig)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("Shutting down servers...")
	if err := ingest.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down ingest receiver: %v", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Closing storage...")
	if err := sink.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Printf("Final counter state: %+v", p.Limits())
	log.Println("Shutdown complete")
}
