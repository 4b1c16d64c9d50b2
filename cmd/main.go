package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixpay/settlement_service/internal/api/routes"
	"github.com/pixpay/settlement_service/internal/infrastructure/config"
	"github.com/pixpay/settlement_service/internal/infrastructure/di"
	"github.com/pixpay/settlement_service/pkg/logger"
	"github.com/pixpay/settlement_service/pkg/tracing"
	"github.com/pixpay/settlement_service/pkg/version"
)

const serviceName = "settlement-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()
	log.Infow("Starting", "version", version.Get().String())

	shutdownTracer, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     version.Version,
	})
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Build dependency injection container
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := di.NewContainer(startCtx, cfg, log)
	cancelStart()
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	container.JobScheduler.Start()
	if err := container.Reconciler.Start(workerCtx); err != nil {
		log.Fatal("Failed to start reconciler", "error", err)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Infow("Starting server", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("Shutting down server")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop taking requests first so no new manual batch can start
	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}

	log.Infow("Stopping settlement batch")
	container.JobScheduler.Stop()
	container.SettlementScheduler.Stop()

	log.Infow("Stopping reconciler")
	if err := container.Reconciler.Stop(); err != nil {
		log.Warnw("Error stopping reconciler", "error", err)
	}

	container.Close()

	if err := shutdownTracer(ctx); err != nil {
		log.Warnw("Error flushing traces", "error", err)
	}

	log.Infow("Server exited")
}
