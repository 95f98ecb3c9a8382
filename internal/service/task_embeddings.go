package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ravel/photoflow/internal/logger"
)

// tagEmbeddingsTask embeds the names of tags that lack a vector point.
// Tags are shared across photos, so a sub-batch deduplicates before
// embedding and a tag embedded by an earlier sub-batch is skipped.
type tagEmbeddingsTask struct {
	baseTask
}

func newTagEmbeddingsTask(spec TaskSpec, env *taskEnv) *tagEmbeddingsTask {
	return &tagEmbeddingsTask{baseTask: baseTask{spec: spec, env: env}}
}

func (t *tagEmbeddingsTask) call(run *Run) DirectCall {
	return func(ctx context.Context, sub []Target) error {
		type pendingTag struct {
			id, name, category string
		}
		seen := make(map[string]bool)
		var tags []pendingTag
		for _, target := range sub {
			detail, err := t.env.photos.GetDetail(ctx, target.Photo.ID)
			if err != nil {
				return &PersistenceError{Op: "load photo detail", Err: err}
			}
			for _, tp := range detail.TagPhotos {
				tag, ok := detail.Tags[tp.TagID]
				if !ok || tag.EmbedPointID != "" || seen[tag.ID] {
					continue
				}
				seen[tag.ID] = true
				tags = append(tags, pendingTag{id: tag.ID, name: tag.Name, category: tag.Category})
			}
		}

		if len(tags) > 0 {
			texts := make([]string, len(tags))
			for i, tag := range tags {
				texts[i] = tag.category + ": " + tag.name
			}
			vectors, err := t.env.gw.EmbedBatch(ctx, texts)
			if err != nil {
				return &TransientGatewayError{Op: t.spec.Name, Err: err}
			}
			if len(vectors) != len(texts) {
				return &ParseError{
					CustomID: joinIDs(sub),
					Err:      fmt.Errorf("got %d vectors for %d tags", len(vectors), len(texts)),
				}
			}
			for i, tag := range tags {
				pointID := uuid.NewString()
				payload := map[string]string{
					"kind":     "tag",
					"tag_id":   tag.id,
					"name":     tag.name,
					"category": tag.category,
				}
				if err := t.env.vectors.UpsertPoint(ctx, pointID, vectors[i], payload); err != nil {
					return &PersistenceError{Op: "upsert tag point", Err: err}
				}
				if err := t.env.photos.SetTagEmbedding(ctx, tag.id, pointID); err != nil {
					return &PersistenceError{Op: "set tag embedding", Err: err}
				}
			}
		}
		return t.Commit(ctx, run, targetIDs(sub))
	}
}

func (t *tagEmbeddingsTask) Process(ctx context.Context, run *Run, targets []Target) error {
	t.env.runner.RunDirect(ctx, t.spec.Name, targets, t.spec.SubBatchSize, t.spec.Sequential, t.call(run))
	return nil
}

func (t *tagEmbeddingsTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return run.MarkPhotosCompleted(ctx, t.spec.Name, photoIDs)
}

// chunkEmbeddingsTask embeds description chunks that lack a vector point.
type chunkEmbeddingsTask struct {
	baseTask
}

func newChunkEmbeddingsTask(spec TaskSpec, env *taskEnv) *chunkEmbeddingsTask {
	return &chunkEmbeddingsTask{baseTask: baseTask{spec: spec, env: env}}
}

func (t *chunkEmbeddingsTask) call(run *Run) DirectCall {
	return func(ctx context.Context, sub []Target) error {
		type pendingChunk struct {
			id, photoID, text string
			position          int
		}
		var chunks []pendingChunk
		for _, target := range sub {
			detail, err := t.env.photos.GetDetail(ctx, target.Photo.ID)
			if err != nil {
				return &PersistenceError{Op: "load photo detail", Err: err}
			}
			for _, c := range detail.Chunks {
				if c.EmbedPointID != "" {
					continue
				}
				chunks = append(chunks, pendingChunk{id: c.ID, photoID: c.PhotoID, text: c.Text, position: c.Position})
			}
		}

		if len(chunks) > 0 {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.text
			}
			vectors, err := t.env.gw.EmbedBatch(ctx, texts)
			if err != nil {
				return &TransientGatewayError{Op: t.spec.Name, Err: err}
			}
			if len(vectors) != len(texts) {
				return &ParseError{
					CustomID: joinIDs(sub),
					Err:      fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(texts)),
				}
			}
			for i, c := range chunks {
				pointID := uuid.NewString()
				payload := map[string]string{
					"kind":     "chunk",
					"photo_id": c.photoID,
					"chunk_id": c.id,
					"position": fmt.Sprintf("%d", c.position),
				}
				if err := t.env.vectors.UpsertPoint(ctx, pointID, vectors[i], payload); err != nil {
					return &PersistenceError{Op: "upsert chunk point", Err: err}
				}
				if err := t.env.photos.SetChunkEmbedding(ctx, c.id, pointID); err != nil {
					return &PersistenceError{Op: "set chunk embedding", Err: err}
				}
			}
		}
		return t.Commit(ctx, run, targetIDs(sub))
	}
}

func (t *chunkEmbeddingsTask) Process(ctx context.Context, run *Run, targets []Target) error {
	t.env.runner.RunDirect(ctx, t.spec.Name, targets, t.spec.SubBatchSize, t.spec.Sequential, t.call(run))
	return nil
}

func (t *chunkEmbeddingsTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return run.MarkPhotosCompleted(ctx, t.spec.Name, photoIDs)
}

// visualEmbeddingTask embeds each photo's context description as its
// whole-photo retrieval vector. Photos still missing a context description
// are skipped and stay pending.
type visualEmbeddingTask struct {
	baseTask
}

func newVisualEmbeddingTask(spec TaskSpec, env *taskEnv) *visualEmbeddingTask {
	return &visualEmbeddingTask{baseTask: baseTask{spec: spec, env: env}}
}

func (t *visualEmbeddingTask) call(run *Run) DirectCall {
	return func(ctx context.Context, sub []Target) error {
		var texts []string
		var embeddable []Target
		for _, target := range sub {
			text := contextOf(target.Photo)
			if strings.TrimSpace(text) == "" {
				logger.With(logger.Fields{logger.FieldTask: t.spec.Name}).Warn(ctx, "Photo %s has no context description, stays pending", target.Photo.ID)
				continue
			}
			texts = append(texts, text)
			embeddable = append(embeddable, target)
		}
		if len(embeddable) == 0 {
			return nil
		}

		vectors, err := t.env.gw.EmbedBatch(ctx, texts)
		if err != nil {
			return &TransientGatewayError{Op: t.spec.Name, Err: err}
		}
		if len(vectors) != len(embeddable) {
			return &ParseError{
				CustomID: joinIDs(embeddable),
				Err:      fmt.Errorf("got %d vectors for %d photos", len(vectors), len(embeddable)),
			}
		}
		for i, target := range embeddable {
			pointID := uuid.NewString()
			payload := map[string]string{
				"kind":     "visual",
				"photo_id": target.Photo.ID,
				"user_id":  target.Photo.UserID,
			}
			if err := t.env.vectors.UpsertPoint(ctx, pointID, vectors[i], payload); err != nil {
				return &PersistenceError{Op: "upsert visual point", Err: err}
			}
			if err := t.env.photos.SetVisualPoint(ctx, target.Photo.ID, pointID); err != nil {
				return &PersistenceError{Op: "set visual point", Err: err}
			}
		}
		return t.Commit(ctx, run, targetIDs(embeddable))
	}
}

func (t *visualEmbeddingTask) Process(ctx context.Context, run *Run, targets []Target) error {
	t.env.runner.RunDirect(ctx, t.spec.Name, targets, t.spec.SubBatchSize, t.spec.Sequential, t.call(run))
	return nil
}

func (t *visualEmbeddingTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return run.MarkPhotosCompleted(ctx, t.spec.Name, photoIDs)
}
