// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/application/container"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/driveline-analytics/leadbridge-go/internal/presentation/http/server"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the complete startup sequence: logger, container,
// background workers, HTTP server, graceful shutdown.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Channeled logging
	logger, err := logging.NewChanneledLogger(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.Startup().Info("LeadBridge starting")

	// Step 2: Dependency injection container (connects the identity store
	// and creates the schema)
	appContainer, err := container.New(logger)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	defer appContainer.Close()
	logger.Startup().Info("Container initialization complete",
		"database", appContainer.DB.ConnectionInfo())

	if config.JWTSecret == "" {
		secret, err := security.GenerateSecureKey(64)
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		config.JWTSecret = secret
		logger.Startup().Warn("JWT_SECRET is not set, generated an ephemeral secret; dashboard tokens will not survive restarts")
	}

	// Step 3: Background workers
	appContainer.AnalyticsService.StartScheduledRecompute(ctx)
	appContainer.ArchivalService.Start(ctx)
	logger.Startup().Info("Background workers started",
		"recomputeInterval", config.AnalyticsRecomputeInterval,
		"archivalInterval", config.ArchivalInterval)

	// Step 4: HTTP server
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown")

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("HTTP server shutdown failed", "error", err.Error())
	}

	logger.Shutdown().Info("Graceful shutdown complete", "duration", time.Since(shutdownStart))
	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
