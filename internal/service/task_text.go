package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
	"github.com/ravel/photoflow/internal/logger"
	"github.com/ravel/photoflow/internal/prompts"
)

// contextOf returns the text a language task reads for a photo: the context
// description, falling back to the caption.
func contextOf(p domain.Photo) string {
	if s, ok := p.Descriptions["context"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	if s, ok := p.Descriptions["caption"].(string); ok {
		return s
	}
	return ""
}

// indexedLines renders one line per target, prefixed with its index, for
// prompts that operate on text rather than images.
func indexedLines(sub []Target, line func(p domain.Photo) string) string {
	var b strings.Builder
	for i, t := range sub {
		fmt.Fprintf(&b, "%d: %s\n", i, strings.ReplaceAll(line(t.Photo), "\n", " "))
	}
	return b.String()
}

// tagsTask derives subject, scene, and mood tags from the context
// descriptions generated by the vision stage.
type tagsTask struct {
	baseTask
	mu     sync.Mutex
	staged map[string]tagItem
}

type tagItem struct {
	Subjects []string `json:"subjects"`
	Scene    []string `json:"scene"`
	Mood     []string `json:"mood"`
}

func newTagsTask(spec TaskSpec, env *taskEnv) *tagsTask {
	return &tagsTask{baseTask: baseTask{spec: spec, env: env}, staged: make(map[string]tagItem)}
}

func (t *tagsTask) promptFor(sub []Target) string {
	return prompts.TagsPrompt + "\n\n" + indexedLines(sub, contextOf)
}

func (t *tagsTask) buildRequest(sub []Target) gateway.BatchRequest {
	return gateway.BatchRequest{Model: t.model(), Prompt: t.promptFor(sub)}
}

func (t *tagsTask) prompt(sub []Target) (string, []string) {
	return t.promptFor(sub), nil
}

func (t *tagsTask) parse(ids []string, content string) error {
	var items []tagItem
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
		t.staged[id] = items[i]
	}
	t.mu.Unlock()
	return nil
}

func (t *tagsTask) Process(ctx context.Context, run *Run, targets []Target) error {
	commit := func(ctx context.Context, ids []string) error { return t.Commit(ctx, run, ids) }
	t.execute(ctx, targets, t.buildRequest, t.parse, t.chatCall(t.prompt, t.parse, commit), commit)
	return nil
}

func (t *tagsTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	var done []string
	for _, id := range photoIDs {
		t.mu.Lock()
		item, ok := t.staged[id]
		delete(t.staged, id)
		t.mu.Unlock()
		if !ok {
			continue
		}
		if err := t.persistCategories(ctx, id, item); err != nil {
			logger.With(logger.Fields{logger.FieldTask: t.spec.Name}).Error(ctx, "Photo %s stays pending: %v", id, err)
			continue
		}
		done = append(done, id)
	}
	return run.MarkPhotosCompleted(ctx, t.spec.Name, done)
}

func (t *tagsTask) persistCategories(ctx context.Context, photoID string, item tagItem) error {
	for _, cat := range []struct {
		name string
		tags []string
	}{
		{"subjects", item.Subjects},
		{"scene", item.Scene},
		{"mood", item.Mood},
	} {
		if len(cat.tags) == 0 {
			continue
		}
		if err := t.env.photos.ReplaceTagsForCategory(ctx, photoID, cat.name, cat.tags); err != nil {
			return &PersistenceError{Op: "replace tags for " + cat.name, Err: err}
		}
	}
	return nil
}

// chunksTask splits context descriptions into retrieval-sized segments.
type chunksTask struct {
	baseTask
	mu     sync.Mutex
	staged map[string][]string
}

func newChunksTask(spec TaskSpec, env *taskEnv) *chunksTask {
	return &chunksTask{baseTask: baseTask{spec: spec, env: env}, staged: make(map[string][]string)}
}

func (t *chunksTask) prompt(sub []Target) (string, []string) {
	return prompts.ChunksPrompt + "\n\n" + indexedLines(sub, contextOf), nil
}

func (t *chunksTask) parse(ids []string, content string) error {
	var items []struct {
		Chunks []string `json:"chunks"`
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
		t.staged[id] = items[i].Chunks
	}
	t.mu.Unlock()
	return nil
}

func (t *chunksTask) Process(ctx context.Context, run *Run, targets []Target) error {
	commit := func(ctx context.Context, ids []string) error { return t.Commit(ctx, run, ids) }
	t.execute(ctx, targets, nil, nil, t.chatCall(t.prompt, t.parse, commit), commit)
	return nil
}

func (t *chunksTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	var done []string
	for _, id := range photoIDs {
		t.mu.Lock()
		texts, ok := t.staged[id]
		delete(t.staged, id)
		t.mu.Unlock()
		if !ok || len(texts) == 0 {
			continue
		}
		if err := t.env.photos.ReplaceChunks(ctx, id, texts); err != nil {
			perr := &PersistenceError{Op: "replace chunks", Err: err}
			logger.With(logger.Fields{logger.FieldTask: t.spec.Name}).Error(ctx, "Photo %s stays pending: %v", id, perr)
			continue
		}
		done = append(done, id)
	}
	return run.MarkPhotosCompleted(ctx, t.spec.Name, done)
}

// metadataTask normalizes raw capture metadata into a structured
// description field. Text-only, no image bytes needed.
type metadataTask struct {
	baseTask
	staged *descStaging
}

func newMetadataTask(spec TaskSpec, env *taskEnv) *metadataTask {
	return &metadataTask{baseTask: baseTask{spec: spec, env: env}, staged: newDescStaging()}
}

func metadataLine(p domain.Photo) string {
	taken := "unknown"
	if p.TakenAt != nil {
		taken = p.TakenAt.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("%s, %s, %dx%d, taken %s", p.OriginalName, p.Format, p.Width, p.Height, taken)
}

func (t *metadataTask) parse() ParseContent {
	return parseObjectPerPhoto(t.staged, func(item map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"metadata": item}
	})
}

func (t *metadataTask) prompt(sub []Target) (string, []string) {
	return prompts.MetadataPrompt + "\n\n" + indexedLines(sub, metadataLine), nil
}

func (t *metadataTask) Process(ctx context.Context, run *Run, targets []Target) error {
	commit := t.commitDescriptions(run, t.staged)
	t.execute(ctx, targets, nil, nil, t.chatCall(t.prompt, t.parse(), commit), commit)
	return nil
}

func (t *metadataTask) Commit(ctx context.Context, run *Run, photoIDs []string) error {
	return t.commitDescriptions(run, t.staged)(ctx, photoIDs)
}
