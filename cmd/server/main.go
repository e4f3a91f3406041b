package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"feedback-service/internal/config"
	"feedback-service/internal/curation"
	"feedback-service/internal/dataset"
	"feedback-service/internal/handler"
	"feedback-service/internal/imagestore"
	"feedback-service/internal/mlclient"
	"feedback-service/internal/repository"
	"feedback-service/internal/service"
	"feedback-service/internal/vision"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Feedback Service...")

	// Load configuration
	cfg, err := config.LoadConfig("configs/config.yml")
	if err != nil {
		logger.Warn("Config file not loaded, using defaults", zap.Error(err))
		cfg = config.Default()
	}

	// Initialize storage
	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		logger.Fatal("Failed to create storage directory", zap.Error(err))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
		logger.Fatal("Failed to create database directory", zap.Error(err))
	}

	images, err := imagestore.NewStore(cfg.Storage.Path, logger)
	if err != nil {
		logger.Fatal("Failed to initialize image store", zap.Error(err))
	}

	repo, err := repository.NewFeedbackRepository(cfg.Storage.DatabasePath, repository.Options{
		RecoverOnCorruption: *cfg.Storage.RecoverOnCorruption,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	// Initialize services
	feedbackService := service.NewFeedbackService(repo, images, logger)
	curator := curation.NewCurator(repo, logger)
	assembler := dataset.NewAssembler(repo, images, cfg.Dataset.BatchSize, logger)

	// Initialize vision ranking. Without a scorer URL the service runs
	// in fallback mode and stays available.
	catalog := vision.LoadCatalog(cfg.Vision.CatalogPath, logger)
	var scorer vision.Scorer
	if cfg.Vision.ScorerURL != "" {
		client := mlclient.NewClient(cfg.Vision.ScorerURL, time.Duration(cfg.Vision.TimeoutSeconds)*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if health, err := client.HealthCheck(ctx); err != nil {
			logger.Warn("Scoring service unreachable, identification will use fallback",
				zap.String("url", cfg.Vision.ScorerURL), zap.Error(err))
		} else {
			logger.Info("Scoring service connected",
				zap.String("url", cfg.Vision.ScorerURL),
				zap.Int("num_classes", health.NumClasses))
		}
		cancel()
		scorer = client
	} else {
		logger.Warn("No scorer URL configured, identification will use fallback")
	}
	ranker := vision.NewRanker(scorer, catalog,
		cfg.Vision.MaxConcurrent,
		time.Duration(cfg.Vision.TimeoutSeconds)*time.Second,
		logger)

	// Initialize HTTP handler
	apiHandler := handler.NewHandler(feedbackService, curator, assembler, ranker, cfg.Dataset.ExportDir, logger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register routes
	apiHandler.RegisterRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", serverAddr))

	// Graceful shutdown
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Feedback Service is running",
		zap.String("port", cfg.Server.Port),
		zap.Int("catalog_plants", catalog.Len()),
		zap.Bool("classifier_ready", ranker.Ready()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
