package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/ade"
	"github.com/BerylCAtieno/statement-extraction-api/internal/config"
	"github.com/BerylCAtieno/statement-extraction-api/internal/db"
	"github.com/BerylCAtieno/statement-extraction-api/internal/progress"
	"github.com/BerylCAtieno/statement-extraction-api/internal/repository"
	"github.com/BerylCAtieno/statement-extraction-api/internal/router"
	"github.com/BerylCAtieno/statement-extraction-api/internal/services"
	"github.com/BerylCAtieno/statement-extraction-api/internal/storage"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Artifact storage and progress tracking
	store, err := storage.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize storage", "error", err, "backend", cfg.StorageBackend)
	}
	tracker, err := progress.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize progress tracker", "error", err, "backend", cfg.ProgressBackend)
	}

	// Services
	artifacts := storage.NewArtifacts(store)
	folderRepo := repository.NewFolderRepository(database)
	docRepo := repository.NewDocumentRepository(database)
	locks := services.NewLocks()
	remote := ade.NewClient(cfg, logger)

	folderService := services.NewFolderService(folderRepo, docRepo, artifacts, tracker, locks, logger)
	processingService := services.NewProcessingService(docRepo, artifacts, remote, tracker, locks, cfg, logger)

	// Setup HTTP router
	handler := router.NewRouter(router.Services{
		Folders:     folderService,
		Processing:  processingService,
		MaxFileSize: cfg.MaxFileSize,
	}, logger)

	// Parse and extract answer synchronously, so writes may take as long as the remote call.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: cfg.RemoteTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server",
			"port", cfg.Port,
			"storage", cfg.StorageBackend,
			"progress", cfg.ProgressBackend,
			"db_driver", db.DriverFor(cfg.DatabaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
