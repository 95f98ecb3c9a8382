package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/logger"
)

// Config tunes the analyzer: model names per family plus the execution
// shape parameters handed to the batch runner.
type Config struct {
	VisionModel    string
	TopologyModel  string
	LLMModel       string
	EmbeddingModel string
	Dimensions     int

	Workers            int
	MaxInflightBatches int
	BatchSize          int
	PhotosPerRequest   int
	BatchAttempts      int
	MaxPolls           int
	PollInterval       time.Duration
	Stagger            time.Duration
}

// AnalyzerService orchestrates analyzer processes: photo set selection and
// ownership, sheet lifecycle, the task loop with stage advancement, retry
// runs, and sheet reconciliation.
type AnalyzerService struct {
	photos   PhotoStore
	procs    ProcessStore
	registry *PackageRegistry
	health   *HealthChecker
	env      *taskEnv

	batchSize        int
	photosPerRequest int
}

func NewAnalyzerService(photos PhotoStore, procs ProcessStore, vectors VectorStore, gw ModelGateway, images ImageLoader, clock Clock, cfg Config) *AnalyzerService {
	health := NewHealthChecker(photos)
	runner := NewBatchRunner(gw, clock, RunnerConfig{
		Workers:      cfg.Workers,
		MaxInflight:  cfg.MaxInflightBatches,
		Attempts:     cfg.BatchAttempts,
		MaxPolls:     cfg.MaxPolls,
		PollInterval: cfg.PollInterval,
		Stagger:      cfg.Stagger,
	})
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1024
	}
	return &AnalyzerService{
		photos:           photos,
		procs:            procs,
		registry:         NewPackageRegistry(),
		health:           health,
		batchSize:        cfg.BatchSize,
		photosPerRequest: cfg.PhotosPerRequest,
		env: &taskEnv{
			photos:  photos,
			procs:   procs,
			vectors: vectors,
			gw:      gw,
			images:  images,
			health:  health,
			runner:  runner,
			dims:    dims,
			models: ModelTable{
				Vision:    cfg.VisionModel,
				Topology:  cfg.TopologyModel,
				LLM:       cfg.LLMModel,
				Embedding: cfg.EmbeddingModel,
			},
		},
	}
}

// Registry exposes the package registry, e.g. for listing packages over
// the API.
func (s *AnalyzerService) Registry() *PackageRegistry { return s.registry }

// resolveSpecs resolves a package and applies the deployment's batch sizing
// overrides to Batch-API tasks.
func (s *AnalyzerService) resolveSpecs(packageID string) ([]TaskSpec, error) {
	specs, err := s.registry.Resolve(packageID)
	if err != nil {
		return nil, err
	}
	out := make([]TaskSpec, len(specs))
	copy(out, specs)
	for i := range out {
		if !out[i].UseBatchAPI {
			continue
		}
		if s.batchSize > 0 {
			out[i].BatchSize = s.batchSize
		}
		if s.photosPerRequest > 0 {
			out[i].PhotosPerRequest = s.photosPerRequest
		}
	}
	return out, nil
}

// Create validates the package, creates the process record, computes the
// photo set for the mode, claims ownership, and initializes the sheet. A
// configuration error surfaces before any state is written.
func (s *AnalyzerService) Create(ctx context.Context, userID, packageID string, mode domain.ProcessMode) (*domain.Process, error) {
	specs, err := s.resolveSpecs(packageID)
	if err != nil {
		return nil, err
	}
	switch mode {
	case domain.ModeAdding, domain.ModeRemake:
	default:
		return nil, &ConfigurationError{Reason: "mode must be adding or remake for a new process"}
	}

	proc := &domain.Process{
		ID:           uuid.NewString(),
		UserID:       userID,
		PackageID:    packageID,
		Mode:         mode,
		CurrentStage: domain.StageInit,
		Sheet:        domain.ProcessSheet{},
	}
	if err := s.procs.Create(ctx, proc); err != nil {
		return nil, &PersistenceError{Op: "create process", Err: err}
	}
	if err := s.initialize(ctx, proc, specs); err != nil {
		return nil, err
	}
	return proc, nil
}

// initialize computes the mode's photo set, syncs ownership, and builds the
// sheet. Retry mode keeps the existing sheet and ownership untouched.
func (s *AnalyzerService) initialize(ctx context.Context, proc *domain.Process, specs []TaskSpec) error {
	if proc.Mode == domain.ModeRetry {
		return nil
	}

	var photos []domain.Photo
	var err error
	switch proc.Mode {
	case domain.ModeAdding:
		photos, err = s.photos.GetUnownedPhotos(ctx, proc.UserID)
	case domain.ModeRemake:
		photos, err = s.photos.GetUserPhotos(ctx, proc.UserID)
	}
	if err != nil {
		return &PersistenceError{Op: "select photos", Err: err}
	}

	photoIDs := make([]string, len(photos))
	for i, p := range photos {
		photoIDs[i] = p.ID
	}
	if err := s.photos.SyncOwnership(ctx, proc.ID, photoIDs); err != nil {
		return &PersistenceError{Op: "sync ownership", Err: err}
	}

	taskNames := make([]string, len(specs))
	for i, spec := range specs {
		taskNames[i] = spec.Name
	}
	proc.Sheet.Initialize(taskNames, photoIDs)
	if err := s.procs.Save(ctx, proc); err != nil {
		return &PersistenceError{Op: "save process", Err: err}
	}

	logger.With(logger.Fields{
		logger.FieldProcessID: proc.ID,
		logger.FieldCount:     len(photoIDs),
	}).Info(ctx, "Process initialized with mode %s over %d photos", proc.Mode, len(photoIDs))
	return nil
}

// Run executes the process's tasks in package order, advancing the stage
// marker as it goes. Task-level failures leave photos pending and the run
// continues; only configuration errors abort and fail the process. The
// final stage is finished when every ledger drained, otherwise the stage
// of the first task that still has pending photos.
func (s *AnalyzerService) Run(ctx context.Context, processID string) error {
	proc, err := s.procs.GetByID(ctx, processID)
	if err != nil {
		return &PersistenceError{Op: "load process", Err: err}
	}
	specs, err := s.resolveSpecs(proc.PackageID)
	if err != nil {
		s.fail(ctx, proc)
		return err
	}

	run := &Run{Proc: proc, env: s.env}
	for _, spec := range specs {
		task, err := newTask(spec, s.env)
		if err != nil {
			s.fail(ctx, proc)
			return err
		}

		s.advanceStage(ctx, proc, spec.Stage)
		started := s.env.runner.clock.Now()

		targets, err := task.Prepare(ctx, run)
		if err != nil {
			logger.With(logger.Fields{
				logger.FieldProcessID: proc.ID,
				logger.FieldTask:      spec.Name,
			}).Error(ctx, "Prepare failed, photos stay pending: %v", err)
			continue
		}
		if len(targets) == 0 {
			continue
		}
		if err := task.Process(ctx, run, targets); err != nil {
			logger.With(logger.Fields{
				logger.FieldProcessID: proc.ID,
				logger.FieldTask:      spec.Name,
			}).Error(ctx, "Task failed, photos stay pending: %v", err)
			continue
		}

		logger.With(logger.Fields{
			logger.FieldProcessID:  proc.ID,
			logger.FieldTask:       spec.Name,
			logger.FieldCount:      len(targets),
			logger.FieldDurationMs: s.env.runner.clock.Now().Sub(started).Milliseconds(),
		}).Info(ctx, "Task finished")
	}

	if proc.Sheet.AllCompleted() {
		proc.CurrentStage = domain.StageFinished
	}
	if err := s.procs.Save(ctx, proc); err != nil {
		return &PersistenceError{Op: "save process", Err: err}
	}
	logger.With(logger.Fields{
		logger.FieldProcessID: proc.ID,
		logger.FieldStatus:    string(proc.CurrentStage),
	}).Info(ctx, "Process run finished")
	return nil
}

// advanceStage moves the stage marker forward, never backward, and
// persists it. Stage persistence is advisory; a failed save is logged and
// the run continues on the in-memory value.
func (s *AnalyzerService) advanceStage(ctx context.Context, proc *domain.Process, stage domain.ProcessStage) {
	if proc.CurrentStage == stage {
		return
	}
	proc.CurrentStage = stage
	if err := s.procs.Save(ctx, proc); err != nil {
		logger.CtxWarn(ctx, "Failed to persist stage %s for process %s: %v", stage, proc.ID, err)
	}
}

func (s *AnalyzerService) fail(ctx context.Context, proc *domain.Process) {
	proc.CurrentStage = domain.StageFailed
	if err := s.procs.Save(ctx, proc); err != nil {
		logger.CtxError(ctx, "Failed to persist failed stage for process %s: %v", proc.ID, err)
	}
}

// CreateAndRun creates a process and runs it to its natural end.
func (s *AnalyzerService) CreateAndRun(ctx context.Context, userID, packageID string, mode domain.ProcessMode) (*domain.Process, error) {
	proc, err := s.Create(ctx, userID, packageID, mode)
	if err != nil {
		return nil, err
	}
	if err := s.Run(ctx, proc.ID); err != nil {
		return proc, err
	}
	return proc, nil
}

// Retry re-runs an existing process in retry mode: ownership and sheet are
// kept, and each task re-derives its pending work through the health
// checker so photos that already satisfy a task's checks are skipped.
func (s *AnalyzerService) Retry(ctx context.Context, processID string) (*domain.Process, error) {
	proc, err := s.procs.GetByID(ctx, processID)
	if err != nil {
		return nil, &PersistenceError{Op: "load process", Err: err}
	}
	if _, err := s.registry.Resolve(proc.PackageID); err != nil {
		return nil, err
	}
	proc.Mode = domain.ModeRetry
	if proc.CurrentStage == domain.StageFailed || proc.CurrentStage == domain.StageFinished {
		proc.CurrentStage = domain.StageInit
	}
	if err := s.procs.Save(ctx, proc); err != nil {
		return nil, &PersistenceError{Op: "save process", Err: err}
	}
	if err := s.Run(ctx, proc.ID); err != nil {
		return proc, err
	}
	return s.procs.GetByID(ctx, proc.ID)
}

// Reconcile aligns the process sheet with actual photo state without
// running any task.
func (s *AnalyzerService) Reconcile(ctx context.Context, processID string) (*domain.Process, error) {
	proc, err := s.procs.GetByID(ctx, processID)
	if err != nil {
		return nil, &PersistenceError{Op: "load process", Err: err}
	}
	specs, err := s.resolveSpecs(proc.PackageID)
	if err != nil {
		return nil, err
	}
	if err := s.health.ReconcileProcessSheet(ctx, proc, specs); err != nil {
		return nil, err
	}
	if proc.Sheet.AllCompleted() && proc.CurrentStage != domain.StageFailed {
		proc.CurrentStage = domain.StageFinished
	}
	if err := s.procs.Save(ctx, proc); err != nil {
		return nil, &PersistenceError{Op: "save process", Err: err}
	}
	return proc, nil
}

// GetProcess loads a process by id.
func (s *AnalyzerService) GetProcess(ctx context.Context, processID string) (*domain.Process, error) {
	return s.procs.GetByID(ctx, processID)
}

// ListProcesses lists a user's processes.
func (s *AnalyzerService) ListProcesses(ctx context.Context, userID string) ([]domain.Process, error) {
	return s.procs.ListByUser(ctx, userID)
}

// PhotoHealth exposes the health checker for the API layer.
func (s *AnalyzerService) PhotoHealth(ctx context.Context, photoID string) (*HealthReport, error) {
	return s.health.PhotoHealth(ctx, photoID)
}
