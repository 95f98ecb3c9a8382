package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
	"github.com/ravel/photoflow/internal/logger"
	"github.com/ravel/photoflow/internal/prompts"
)

// descStaging accumulates parsed per-photo description documents between
// Process and Commit. Safe for concurrent sub-batches.
type descStaging struct {
	mu   sync.Mutex
	data map[string]map[string]interface{}
}

func newDescStaging() *descStaging {
	return &descStaging{data: make(map[string]map[string]interface{})}
}

func (s *descStaging) put(photoID string, doc map[string]interface{}) {
	s.mu.Lock()
	s.data[photoID] = doc
	s.mu.Unlock()
}

func (s *descStaging) take(photoID string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[photoID]
	if ok {
		delete(s.data, photoID)
	}
	return doc, ok
}

// execute runs targets through the task's configured shape: Batch API with a single
// direct fallback pass for failed requests, or the direct shape outright.
func (t *baseTask) execute(ctx context.Context, targets []Target, build BuildRequest, parse ParseContent, call DirectCall, commit CommitBatch) {
	if t.spec.UseBatchAPI {
		failed := t.env.runner.RunBatch(ctx, t.spec.Name, targets, t.spec.BatchSize, t.spec.PhotosPerRequest, build, parse, commit)
		if len(failed) > 0 {
			logger.With(logger.Fields{
				logger.FieldTask:  t.spec.Name,
				logger.FieldCount: len(failed),
			}).Info(ctx, "Running direct fallback for failed batch requests")
			t.env.runner.RunDirect(ctx, t.spec.Name, failed, t.spec.SubBatchSize, false, call)
		}
		return
	}
	t.env.runner.RunDirect(ctx, t.spec.Name, targets, t.spec.SubBatchSize, t.spec.Sequential, call)
}

// chatCall builds a DirectCall that sends one chat request per sub-batch,
// parses the response, and commits.
func (t *baseTask) chatCall(prompt func(sub []Target) (string, []string), parse ParseContent, commit CommitBatch) DirectCall {
	return func(ctx context.Context, sub []Target) error {
		text, images := prompt(sub)
		content, err := t.env.gw.InferDirect(ctx, t.model(), text, images)
		if err != nil {
			return &TransientGatewayError{Op: t.spec.Name, Err: err}
		}
		ids := targetIDs(sub)
		if err := parse(ids, content); err != nil {
			return err
		}
		return commit(ctx, ids)
	}
}

// commitDescriptions persists staged description documents and marks the
// surviving photos completed. A rejected persist keeps that photo pending.
func (t *baseTask) commitDescriptions(run *Run, staged *descStaging) CommitBatch {
	return func(ctx context.Context, ids []string) error {
		var done []string
		for _, id := range ids {
			doc, ok := staged.take(id)
			if !ok {
				continue
			}
			if err := t.env.photos.UpdateDescriptions(ctx, id, doc); err != nil {
				perr := &PersistenceError{Op: "update descriptions", Err: err}
				logger.With(logger.Fields{logger.FieldTask: t.spec.Name}).Error(ctx, "Photo %s stays pending: %v", id, perr)
				continue
			}
			done = append(done, id)
		}
		return run.MarkPhotosCompleted(ctx, t.spec.Name, done)
	}
}

// parseObjectPerPhoto expects a JSON array with exactly one object per
// photo, in order, and stages each object through wrap.
func parseObjectPerPhoto(staged *descStaging, wrap func(item map[string]interface{}) map[string]interface{}) ParseContent {
	return func(ids []string, content string) error {
		var items []map[string]interface{}
		if err := gateway.ExtractJSONArray(content, &items); err != nil {
			return &ParseError{CustomID: strings.Join(ids, "|"), Err: err}
		}
		if len(items) != len(ids) {
			return &ParseError{
				CustomID: strings.Join(ids, "|"),
				Err:      fmt.Errorf("got %d objects for %d photos", len(items), len(ids)),
			}
		}
		for i, id := range ids {
			staged.put(id, wrap(items[i]))
		}
		return nil
	}
}

// visionContextTask generates the context, caption, and visual aspects
// description fields from the raw image.
type visionContextTask struct {
	baseTask
	staged *descStaging
}

func newVisionContextTask(spec TaskSpec, env *taskEnv) *visionContextTask {
	return &visionContextTask{baseTask: baseTask{spec: spec, env: env}, staged: newDescStaging()}
}

func (t *visionContextTask) parse() ParseContent {
	return parseObjectPerPhoto(t.staged, func(item map[string]interface{}) map[string]interface{} {
		return item
	})
}

func (t *visionContextTask) prompt(sub []Target) (string, []string) {
	return prompts.VisionContextPrompt, targetDataURLs(sub)
}

func (t *visionContextTask) buildRequest(sub []Target) gateway.BatchRequest {
	return gateway.BatchRequest{Model: t.model(), Prompt: prompts.VisionContextPrompt, Images: targetDataURLs(sub)}
}

func (t *visionContextTask) Process(ctx context.Context, run *Run, targets []Target) error {
	commit := t.commitDescriptions(run, t.staged)
	t.execute(ctx, targets, t.buildRequest, t.parse(), t.chatCall(t.prompt, t.parse(), commit), commit)
	return nil
}

func (t *visionContextTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return t.commitDescriptions(run, t.staged)(ctx, photoIDs)
}

// visionTopologyTask describes image composition against rule-of-thirds
// guidelines. Runs sequentially over small sub-batches since the guideline
// overlays make requests heavy.
type visionTopologyTask struct {
	baseTask
	staged *descStaging
}

func newVisionTopologyTask(spec TaskSpec, env *taskEnv) *visionTopologyTask {
	return &visionTopologyTask{baseTask: baseTask{spec: spec, env: env}, staged: newDescStaging()}
}

func (t *visionTopologyTask) parse() ParseContent {
	return parseObjectPerPhoto(t.staged, func(item map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"topology": item}
	})
}

func (t *visionTopologyTask) prompt(sub []Target) (string, []string) {
	return prompts.VisionTopologyPrompt, targetDataURLs(sub)
}

func (t *visionTopologyTask) Process(ctx context.Context, run *Run, targets []Target) error {
	commit := t.commitDescriptions(run, t.staged)
	t.execute(ctx, targets, nil, nil, t.chatCall(t.prompt, t.parse(), commit), commit)
	return nil
}

func (t *visionTopologyTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return t.commitDescriptions(run, t.staged)(ctx, photoIDs)
}

// detectionsTask extracts labeled objects with normalized bounding boxes.
type detectionsTask struct {
	baseTask
	mu     sync.Mutex
	staged map[string][]detectionItem
}

type detectionItem struct {
	Label string                 `json:"label"`
	Score float64                `json:"score"`
	Box   map[string]interface{} `json:"box"`
}

func newDetectionsTask(spec TaskSpec, env *taskEnv) *detectionsTask {
	return &detectionsTask{baseTask: baseTask{spec: spec, env: env}, staged: make(map[string][]detectionItem)}
}

func (t *detectionsTask) parse(ids []string, content string) error {
	var items []struct {
		Objects []detectionItem `json:"objects"`
	}
	if err := gateway.ExtractJSONArray(content, &items); err != nil {
		return &ParseError{CustomID: strings.Join(ids, "|"), Err: err}
	}
	if len(items) != len(ids) {
		return &ParseError{
			CustomID: strings.Join(ids, "|"),
			Err:      fmt.Errorf("got %d objects for %d photos", len(items), len(ids)),
		}
	}
	t.mu.Lock()
	for i, id := range ids {
		t.staged[id] = items[i].Objects
	}
	t.mu.Unlock()
	return nil
}

func (t *detectionsTask) prompt(sub []Target) (string, []string) {
	return prompts.DetectionPrompt, targetDataURLs(sub)
}

func (t *detectionsTask) Process(ctx context.Context, run *Run, targets []Target) error {
	commit := func(ctx context.Context, ids []string) error { return t.Commit(ctx, run, ids) }
	t.execute(ctx, targets, nil, nil, t.chatCall(t.prompt, t.parse, commit), commit)
	return nil
}

func (t *detectionsTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	var done []string
	for _, id := range photoIDs {
		t.mu.Lock()
		items, ok := t.staged[id]
		delete(t.staged, id)
		t.mu.Unlock()
		if !ok {
			continue
		}
		if err := t.env.photos.UpdateDetections(ctx, id, toDetections(id, items), true); err != nil {
			perr := &PersistenceError{Op: "update detections", Err: err}
			logger.With(logger.Fields{logger.FieldTask: t.spec.Name}).Error(ctx, "Photo %s stays pending: %v", id, perr)
			continue
		}
		done = append(done, id)
	}
	return run.MarkPhotosCompleted(ctx, t.spec.Name, done)
}

func toDetections(photoID string, items []detectionItem) []domain.Detection {
	detections := make([]domain.Detection, len(items))
	for i, item := range items {
		detections[i] = domain.Detection{
			ID:      uuid.NewString(),
			PhotoID: photoID,
			Label:   item.Label,
			Score:   float32(item.Score),
			Box:     domain.JSONMap(item.Box),
		}
	}
	return detections
}

func targetDataURLs(targets []Target) []string {
	urls := make([]string, len(targets))
	for i, t := range targets {
		urls[i] = t.DataURL
	}
	return urls
}
