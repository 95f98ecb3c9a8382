// Command analyze runs an analyzer process from the command line: create a
// new process over a user's photos, retry or reconcile an existing one, or
// dump a process sheet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ravel/photoflow/internal/config"
	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
	"github.com/ravel/photoflow/internal/imaging"
	"github.com/ravel/photoflow/internal/logger"
	"github.com/ravel/photoflow/internal/repository"
	"github.com/ravel/photoflow/internal/service"
	"github.com/ravel/photoflow/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default: ./configs/config.yaml)")
		userID     = flag.String("user", "", "user whose photos to analyze")
		packageID  = flag.String("package", "basic", "task package to run")
		mode       = flag.String("mode", "adding", "photo selection mode: adding or remake")
		processID  = flag.String("process", "", "existing process id (for -retry, -reconcile, -sheet)")
		retry      = flag.Bool("retry", false, "retry an existing process")
		reconcile  = flag.Bool("reconcile", false, "reconcile an existing process sheet against photo state")
		sheet      = flag.Bool("sheet", false, "print the process sheet and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefaultLogger(logger.New(&logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "text",
		ServiceName: "photoflow-analyze",
	}))

	analyzer, cleanup, err := buildAnalyzer(cfg)
	if err != nil {
		log.Fatalf("Failed to build analyzer: %v", err)
	}
	defer cleanup()

	ctx := context.Background()

	switch {
	case *sheet:
		requireProcess(*processID)
		proc, err := analyzer.GetProcess(ctx, *processID)
		if err != nil {
			log.Fatalf("Failed to load process: %v", err)
		}
		fmt.Print(proc.Sheet.Render())

	case *reconcile:
		requireProcess(*processID)
		proc, err := analyzer.Reconcile(ctx, *processID)
		if err != nil {
			log.Fatalf("Reconcile failed: %v", err)
		}
		fmt.Printf("Process %s is now at stage %s\n", proc.ID, proc.CurrentStage)
		fmt.Print(proc.Sheet.Render())

	case *retry:
		requireProcess(*processID)
		proc, err := analyzer.Retry(ctx, *processID)
		if err != nil {
			log.Fatalf("Retry failed: %v", err)
		}
		report(proc)

	default:
		if *userID == "" {
			log.Fatal("-user is required to create a process")
		}
		proc, err := analyzer.CreateAndRun(ctx, *userID, *packageID, domain.ProcessMode(*mode))
		if err != nil {
			log.Fatalf("Process run failed: %v", err)
		}
		report(proc)
	}
}

func requireProcess(id string) {
	if id == "" {
		log.Fatal("-process is required")
	}
}

func report(proc *domain.Process) {
	fmt.Printf("Process %s finished at stage %s\n", proc.ID, proc.CurrentStage)
	fmt.Print(proc.Sheet.Render())
	if proc.CurrentStage != domain.StageFinished {
		os.Exit(1)
	}
}

func buildAnalyzer(cfg *config.Config) (*service.AnalyzerService, func(), error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}

	vectorRepo, err := repository.NewVectorRepository(&repository.VectorConnectionConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Dimensions: cfg.Qdrant.Dimensions,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init vector repository: %w", err)
	}

	ctx := context.Background()
	if err := vectorRepo.EnsureCollection(ctx); err != nil {
		vectorRepo.Close()
		return nil, nil, fmt.Errorf("ensure vector collection: %w", err)
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
		vectorRepo.Close()
		return nil, nil, fmt.Errorf("init storage: %w", err)
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
		repository.NewPhotoRepository(db),
		repository.NewProcessRepository(db),
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
	cleanup := func() { vectorRepo.Close() }
	return analyzer, cleanup, nil
}
