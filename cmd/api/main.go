package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ravel/photoflow/internal/api"
	"github.com/ravel/photoflow/internal/api/middleware"
	"github.com/ravel/photoflow/internal/config"
	"github.com/ravel/photoflow/internal/gateway"
	"github.com/ravel/photoflow/internal/imaging"
	"github.com/ravel/photoflow/internal/logger"
	"github.com/ravel/photoflow/internal/repository"
	"github.com/ravel/photoflow/internal/service"
	"github.com/ravel/photoflow/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefaultLogger(logger.New(&logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "json",
		ServiceName: "photoflow-api",
	}))

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	photoRepo := repository.NewPhotoRepository(db)
	processRepo := repository.NewProcessRepository(db)

	vectorRepo, err := repository.NewVectorRepository(&repository.VectorConnectionConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Dimensions: cfg.Qdrant.Dimensions,
	})
	if err != nil {
		log.Fatalf("Failed to initialize vector repository: %v", err)
	}
	defer vectorRepo.Close()

	ctx := context.Background()
	if err := vectorRepo.EnsureCollection(ctx); err != nil {
		log.Fatalf("Failed to ensure vector collection: %v", err)
	}

	objectStorage, err := storage.NewS3Storage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure storage bucket: %v", err)
	}

	gatewayClient := gateway.NewClient(&gateway.Config{
		BaseURL:             cfg.Gateway.BaseURL,
		APIKey:              cfg.Gateway.APIKey,
		EmbeddingBaseURL:    cfg.Gateway.EmbeddingBaseURL,
		EmbeddingAPIKey:     cfg.Gateway.EmbeddingAPIKey,
		EmbeddingModel:      cfg.Gateway.EmbeddingModel,
		EmbeddingDimensions: cfg.Gateway.EmbeddingDimensions,
		Timeout:             cfg.Gateway.Timeout,
	})

	analyzer := service.NewAnalyzerService(
		photoRepo,
		processRepo,
		vectorRepo,
		gatewayClient,
		imaging.NewLoader(objectStorage),
		service.NewClock(),
		service.Config{
			VisionModel:        cfg.Gateway.VisionModel,
			TopologyModel:      cfg.Gateway.TopologyModel,
			LLMModel:           cfg.Gateway.LLMModel,
			EmbeddingModel:     cfg.Gateway.EmbeddingModel,
			Dimensions:         cfg.Gateway.EmbeddingDimensions,
			Workers:            cfg.Analyzer.Workers,
			MaxInflightBatches: cfg.Analyzer.MaxInflightBatches,
			BatchSize:          cfg.Analyzer.BatchSize,
			PhotosPerRequest:   cfg.Analyzer.PhotosPerRequest,
			BatchAttempts:      cfg.Analyzer.BatchAttempts,
			MaxPolls:           cfg.Analyzer.MaxPolls,
			PollInterval:       cfg.Analyzer.PollInterval,
			Stagger:            cfg.Analyzer.Stagger,
		},
	)

	router := api.SetupRouter(analyzer, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.CtxInfo(ctx, "API server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.CtxInfo(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Forced shutdown: %v", err)
	}
	logger.CtxInfo(ctx, "Server stopped")
}
