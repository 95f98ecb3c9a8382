package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/logger"
)

// Task is one unit of analysis work over a process's photos. Prepare
// selects and materializes targets, Process executes the gateway calls and
// stages results, Commit persists staged results and updates the sheet.
// The runner invokes Commit from Process as sub-batches finish.
type Task interface {
	Spec() TaskSpec
	Prepare(ctx context.Context, run *Run) ([]Target, error)
	Process(ctx context.Context, run *Run, targets []Target) error
	Commit(ctx context.Context, run *Run, photoIDs []string) error
}

// taskEnv bundles the collaborators tasks share.
type taskEnv struct {
	photos  PhotoStore
	procs   ProcessStore
	vectors VectorStore
	gw      ModelGateway
	images  ImageLoader
	health  *HealthChecker
	runner  *BatchRunner
	models  ModelTable
	dims    int
}

// ModelTable maps model families to configured model names.
type ModelTable struct {
	Vision    string
	Topology  string
	LLM       string
	Embedding string
}

func (t ModelTable) resolve(f ModelFamily) string {
	switch f {
	case ModelVision:
		return t.Vision
	case ModelTopology:
		return t.Topology
	case ModelLLM:
		return t.LLM
	case ModelEmbedding:
		return t.Embedding
	default:
		return ""
	}
}

// Run is the runtime state of one process execution. Sheet updates go
// through MarkPhotosCompleted so concurrent sub-batches serialize on the
// mutex and every update is persisted immediately.
type Run struct {
	Proc *domain.Process
	env  *taskEnv
	mu   sync.Mutex
}

// MarkPhotosCompleted moves photos from pending to completed for the task
// and saves the process. A failed save keeps the in-memory sheet authoritative
// and is surfaced as a *PersistenceError.
func (r *Run) MarkPhotosCompleted(ctx context.Context, taskName string, photoIDs []string) error {
	if len(photoIDs) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Proc.Sheet.MarkCompleted(taskName, photoIDs)
	if err := r.env.procs.Save(ctx, r.Proc); err != nil {
		return &PersistenceError{Op: "save process sheet", Err: err}
	}
	logger.With(logger.Fields{
		logger.FieldProcessID: r.Proc.ID,
		logger.FieldTask:      taskName,
		logger.FieldCount:     len(photoIDs),
	}).Debug(ctx, "Marked photos completed")
	return nil
}

// baseTask carries the shared prepare logic: pending selection from the
// sheet, retry targeting through the health checker, and image
// materialization.
type baseTask struct {
	spec TaskSpec
	env  *taskEnv
}

func (t *baseTask) Spec() TaskSpec { return t.spec }

func (t *baseTask) model() string { return t.env.models.resolve(t.spec.Model) }

// Prepare selects this task's pending photos and materializes image bytes
// when the spec asks for them. In retry mode a photo is selected only if
// one of the task's health checks fails; photos already satisfying every
// check are marked completed right away. Photos whose images cannot be
// loaded are skipped and stay pending.
func (t *baseTask) Prepare(ctx context.Context, run *Run) ([]Target, error) {
	photos, err := t.env.photos.GetOwnedPhotos(ctx, run.Proc.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "load owned photos", Err: err}
	}
	byID := make(map[string]domain.Photo, len(photos))
	for _, p := range photos {
		byID[p.ID] = p
	}

	pending := run.Proc.Sheet.PendingFor(t.spec.Name)
	var selected []domain.Photo
	var alreadyDone []string
	for _, id := range pending {
		photo, ok := byID[id]
		if !ok {
			// Photo left the process since the sheet was built.
			continue
		}
		if run.Proc.Mode == domain.ModeRetry {
			report, err := t.env.health.PhotoHealth(ctx, id)
			if err != nil {
				return nil, err
			}
			if ChecksSatisfied(report, t.spec.Checks) {
				alreadyDone = append(alreadyDone, id)
				continue
			}
		}
		selected = append(selected, photo)
	}
	if len(alreadyDone) > 0 {
		if err := run.MarkPhotosCompleted(ctx, t.spec.Name, alreadyDone); err != nil {
			return nil, err
		}
	}

	targets := make([]Target, 0, len(selected))
	for _, photo := range selected {
		target := Target{Photo: photo}
		if t.spec.NeedsImage {
			data, dataURL, err := t.env.images.Load(ctx, photo, t.spec.Guidelines)
			if err != nil {
				logger.With(logger.Fields{
					logger.FieldTask: t.spec.Name,
				}).Warn(ctx, "Skipping photo %s, image load failed: %v", photo.ID, err)
				continue
			}
			target.Bytes = data
			target.DataURL = dataURL
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// newTask builds the concrete task for a spec.
func newTask(spec TaskSpec, env *taskEnv) (Task, error) {
	switch spec.Kind {
	case KindVisionContext:
		return newVisionContextTask(spec, env), nil
	case KindVisionTopology:
		return newVisionTopologyTask(spec, env), nil
	case KindDetections:
		return newDetectionsTask(spec, env), nil
	case KindMetadata:
		return newMetadataTask(spec, env), nil
	case KindTags:
		return newTagsTask(spec, env), nil
	case KindTagEmbeddings:
		return newTagEmbeddingsTask(spec, env), nil
	case KindChunks:
		return newChunksTask(spec, env), nil
	case KindChunkEmbeddings:
		return newChunkEmbeddingsTask(spec, env), nil
	case KindVisualEmbedding:
		return newVisualEmbeddingTask(spec, env), nil
	case KindColorEmbedding:
		return newColorEmbeddingTask(spec, env), nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("task %q has unknown kind %q", spec.Name, spec.Kind)}
	}
}
