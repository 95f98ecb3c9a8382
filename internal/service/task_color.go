package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ravel/photoflow/internal/imaging"
	"github.com/ravel/photoflow/internal/logger"
)

// colorEmbeddingTask computes a normalized RGB histogram per photo and
// stores it as a vector point. Runs entirely locally, no gateway calls.
type colorEmbeddingTask struct {
	baseTask
}

func newColorEmbeddingTask(spec TaskSpec, env *taskEnv) *colorEmbeddingTask {
	return &colorEmbeddingTask{baseTask: baseTask{spec: spec, env: env}}
}

func (t *colorEmbeddingTask) call(run *Run) DirectCall {
	return func(ctx context.Context, sub []Target) error {
		var done []string
		for _, target := range sub {
			vector, err := imaging.ColorHistogram(target.Bytes, t.env.dims/3)
			if err != nil {
				logger.With(logger.Fields{logger.FieldTask: t.spec.Name}).Warn(ctx, "Photo %s stays pending, histogram failed: %v", target.Photo.ID, err)
				continue
			}
			// Histograms are 3*bins wide; pad to the collection width.
			for len(vector) < t.env.dims {
				vector = append(vector, 0)
			}
			pointID := uuid.NewString()
			payload := map[string]string{
				"kind":     "color",
				"photo_id": target.Photo.ID,
				"user_id":  target.Photo.UserID,
			}
			if err := t.env.vectors.UpsertPoint(ctx, pointID, vector, payload); err != nil {
				return &PersistenceError{Op: "upsert color point", Err: err}
			}
			if err := t.env.photos.SetColorPoint(ctx, target.Photo.ID, pointID); err != nil {
				return &PersistenceError{Op: "set color point", Err: err}
			}
			done = append(done, target.Photo.ID)
		}
		return t.Commit(ctx, run, done)
	}
}

func (t *colorEmbeddingTask) Process(ctx context.Context, run *Run, targets []Target) error {
	t.env.runner.RunDirect(ctx, t.spec.Name, targets, t.spec.SubBatchSize, t.spec.Sequential, t.call(run))
	return nil
}

func (t *colorEmbeddingTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return run.MarkPhotosCompleted(ctx, t.spec.Name, photoIDs)
}
