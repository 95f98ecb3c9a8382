package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
)

// fakeClock returns immediately from Sleep and ticks a synthetic time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

// fakePhotoStore is an in-memory PhotoStore.
type fakePhotoStore struct {
	mu         sync.Mutex
	photos     map[string]*domain.Photo
	tags       map[string]*domain.Tag
	tagPhotos  map[string][]domain.TagPhoto
	chunks     map[string][]domain.DescriptionChunk
	detections map[string][]domain.Detection

	failDescriptionsFor map[string]bool
}

func newFakePhotoStore() *fakePhotoStore {
	return &fakePhotoStore{
		photos:              make(map[string]*domain.Photo),
		tags:                make(map[string]*domain.Tag),
		tagPhotos:           make(map[string][]domain.TagPhoto),
		chunks:              make(map[string][]domain.DescriptionChunk),
		detections:          make(map[string][]domain.Detection),
		failDescriptionsFor: make(map[string]bool),
	}
}

func (s *fakePhotoStore) addPhoto(id, userID string, processID *string) *domain.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &domain.Photo{
		ID: id, UserID: userID, StorageKey: "photos/" + id + ".jpg",
		OriginalName: id + ".jpg", Format: "jpeg", Width: 640, Height: 480,
		ProcessID: processID, Descriptions: domain.JSONMap{},
		Status: domain.PhotoStatusActive,
	}
	s.photos[id] = p
	return p
}

func (s *fakePhotoStore) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePhotoStore) GetOwnedPhotos(ctx context.Context, processID string) ([]domain.Photo, error) {
	return s.selectPhotos(func(p *domain.Photo) bool {
		return p.ProcessID != nil && *p.ProcessID == processID
	})
}

func (s *fakePhotoStore) GetUnownedPhotos(ctx context.Context, userID string) ([]domain.Photo, error) {
	return s.selectPhotos(func(p *domain.Photo) bool {
		return p.UserID == userID && p.ProcessID == nil
	})
}

func (s *fakePhotoStore) GetUserPhotos(ctx context.Context, userID string) ([]domain.Photo, error) {
	return s.selectPhotos(func(p *domain.Photo) bool { return p.UserID == userID })
}

func (s *fakePhotoStore) selectPhotos(keep func(*domain.Photo) bool) ([]domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Photo
	for _, p := range s.photos {
		if keep(p) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakePhotoStore) SyncOwnership(ctx context.Context, processID string, photoIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(photoIDs))
	for _, id := range photoIDs {
		want[id] = true
	}
	for id, p := range s.photos {
		switch {
		case want[id]:
			pid := processID
			p.ProcessID = &pid
		case p.ProcessID != nil && *p.ProcessID == processID:
			p.ProcessID = nil
		}
	}
	return nil
}

func (s *fakePhotoStore) UpdateDescriptions(ctx context.Context, photoID string, partial map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDescriptionsFor[photoID] {
		return fmt.Errorf("store rejected write for %s", photoID)
	}
	p, ok := s.photos[photoID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.Descriptions == nil {
		p.Descriptions = domain.JSONMap{}
	}
	p.Descriptions.DeepMerge(partial)
	return nil
}

func (s *fakePhotoStore) UpdateDetections(ctx context.Context, photoID string, detections []domain.Detection, replaceAll bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if replaceAll {
		s.detections[photoID] = detections
	} else {
		s.detections[photoID] = append(s.detections[photoID], detections...)
	}
	return nil
}

func (s *fakePhotoStore) ReplaceTagsForCategory(ctx context.Context, photoID, category string, tagNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tagPhotos[photoID][:0]
	for _, tp := range s.tagPhotos[photoID] {
		if tp.Category != category {
			kept = append(kept, tp)
		}
	}
	s.tagPhotos[photoID] = kept
	for _, name := range tagNames {
		var tag *domain.Tag
		for _, t := range s.tags {
			if t.Name == name && t.Category == category {
				tag = t
				break
			}
		}
		if tag == nil {
			tag = &domain.Tag{ID: uuid.NewString(), Name: name, Category: category}
			s.tags[tag.ID] = tag
		}
		s.tagPhotos[photoID] = append(s.tagPhotos[photoID], domain.TagPhoto{
			ID: uuid.NewString(), PhotoID: photoID, TagID: tag.ID, Category: category,
		})
	}
	return nil
}

func (s *fakePhotoStore) ReplaceChunks(ctx context.Context, photoID string, texts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := make([]domain.DescriptionChunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.DescriptionChunk{ID: uuid.NewString(), PhotoID: photoID, Position: i, Text: text}
	}
	s.chunks[photoID] = chunks
	return nil
}

func (s *fakePhotoStore) SetTagEmbedding(ctx context.Context, tagID, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, ok := s.tags[tagID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	tag.EmbedPointID = pointID
	return nil
}

func (s *fakePhotoStore) SetChunkEmbedding(ctx context.Context, chunkID, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for photoID, chunks := range s.chunks {
		for i := range chunks {
			if chunks[i].ID == chunkID {
				s.chunks[photoID][i].EmbedPointID = pointID
				return nil
			}
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakePhotoStore) SetVisualPoint(ctx context.Context, photoID, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[photoID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.VisualPointID = pointID
	return nil
}

func (s *fakePhotoStore) SetColorPoint(ctx context.Context, photoID, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[photoID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.ColorPointID = pointID
	return nil
}

func (s *fakePhotoStore) GetDetail(ctx context.Context, photoID string) (*domain.PhotoDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[photoID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	detail := &domain.PhotoDetail{
		Photo:      *p,
		TagPhotos:  append([]domain.TagPhoto(nil), s.tagPhotos[photoID]...),
		Tags:       make(map[string]domain.Tag),
		Chunks:     append([]domain.DescriptionChunk(nil), s.chunks[photoID]...),
		Detections: append([]domain.Detection(nil), s.detections[photoID]...),
	}
	for _, tp := range detail.TagPhotos {
		if tag, ok := s.tags[tp.TagID]; ok {
			detail.Tags[tp.TagID] = *tag
		}
	}
	return detail, nil
}

// fakeProcessStore is an in-memory ProcessStore.
type fakeProcessStore struct {
	mu    sync.Mutex
	procs map[string]*domain.Process
	saves int
}

func newFakeProcessStore() *fakeProcessStore {
	return &fakeProcessStore{procs: make(map[string]*domain.Process)}
}

func (s *fakeProcessStore) Create(ctx context.Context, proc *domain.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[proc.ID] = proc
	return nil
}

func (s *fakeProcessStore) Save(ctx context.Context, proc *domain.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[proc.ID] = proc
	s.saves++
	return nil
}

func (s *fakeProcessStore) GetByID(ctx context.Context, id string) (*domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.procs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return proc, nil
}

func (s *fakeProcessStore) ListByUser(ctx context.Context, userID string) ([]domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Process
	for _, p := range s.procs {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// fakeVectorStore records upserted points.
type fakeVectorStore struct {
	mu     sync.Mutex
	points map[string]map[string]string // point id -> payload
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: make(map[string]map[string]string)}
}

func (s *fakeVectorStore) UpsertPoint(ctx context.Context, pointID string, vector []float32, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[pointID] = payload
	return nil
}

func (s *fakeVectorStore) DeletePoint(ctx context.Context, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, pointID)
	return nil
}

func (s *fakeVectorStore) countKind(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, payload := range s.points {
		if payload["kind"] == kind {
			n++
		}
	}
	return n
}

// fakeLoader serves a tiny in-memory PNG without any object storage.
type fakeLoader struct {
	mu      sync.Mutex
	failFor map[string]bool
}

func newFakeLoader() *fakeLoader { return &fakeLoader{failFor: make(map[string]bool)} }

var tinyPNG = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func (l *fakeLoader) Load(ctx context.Context, photo domain.Photo, withGuidelines bool) ([]byte, string, error) {
	l.mu.Lock()
	fail := l.failFor[photo.ID]
	l.mu.Unlock()
	if fail {
		return nil, "", fmt.Errorf("object missing for %s", photo.ID)
	}
	return tinyPNG, "data:image/png;base64," + base64.StdEncoding.EncodeToString(tinyPNG), nil
}

// fakeGateway emulates the model gateway. Responses are synthesized from
// the request shape: one JSON object per attached image, or per indexed
// line for text prompts.
type fakeGateway struct {
	mu sync.Mutex

	// direct calls
	directCalls  []string // prompt of each call
	directFailFn func(prompt string, images []string) error

	// batch lifecycle
	batches        map[string]*fakeBatch
	submitFailures int
	submitCount    int
	pollsUntilDone int
	finalState     gateway.BatchState
	dropCustomIDs  map[string]bool // omit these sub-requests from results
	badCustomIDs   map[string]bool // return unparseable content for these

	inflight    int
	maxInflight int

	embedDim   int
	embedCalls int
}

type fakeBatch struct {
	requests []gateway.BatchRequest
	polls    int
	done     bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		batches:        make(map[string]*fakeBatch),
		pollsUntilDone: 1,
		finalState:     gateway.BatchCompleted,
		dropCustomIDs:  make(map[string]bool),
		badCustomIDs:   make(map[string]bool),
		embedDim:       8,
	}
}

var indexedLineRe = regexp.MustCompile(`(?m)^\d+: `)

// synthesize builds a valid response for any of the analyzer prompts.
func synthesize(prompt string, n int) string {
	var objects []string
	for i := 0; i < n; i++ {
		switch {
		case strings.Contains(prompt, `"subjects"`):
			objects = append(objects, `{"subjects":["dog"],"scene":["park"],"mood":["calm"]}`)
		case strings.Contains(prompt, `"chunks"`):
			objects = append(objects, `{"chunks":["A dog runs.","The park is green."]}`)
		case strings.Contains(prompt, `"objects"`):
			objects = append(objects, `{"objects":[{"label":"dog","score":0.9,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4}}]}`)
		case strings.Contains(prompt, `"regions"`):
			objects = append(objects, `{"regions":{"center":"a dog"},"focal_point":"center"}`)
		case strings.Contains(prompt, `"season"`):
			objects = append(objects, `{"season":"summer","time_of_day":"afternoon","orientation":"landscape","decade":"2020s"}`)
		default:
			objects = append(objects, fmt.Sprintf(`{"context":"A dog in a park, photo %d.","caption":"dog in park","visual_aspects":{"colors":["green"],"lighting":"soft","composition":"centered"}}`, i))
		}
	}
	return "[" + strings.Join(objects, ",") + "]"
}

func promptCardinality(prompt string, images []string) int {
	if len(images) > 0 {
		return len(images)
	}
	return len(indexedLineRe.FindAllString(prompt, -1))
}

func (g *fakeGateway) InferDirect(ctx context.Context, model, prompt string, images []string) (string, error) {
	g.mu.Lock()
	g.directCalls = append(g.directCalls, prompt)
	failFn := g.directFailFn
	g.mu.Unlock()
	if failFn != nil {
		if err := failFn(prompt, images); err != nil {
			return "", err
		}
	}
	return synthesize(prompt, promptCardinality(prompt, images)), nil
}

func (g *fakeGateway) SubmitBatch(ctx context.Context, requests []gateway.BatchRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCount++
	if g.submitFailures > 0 {
		g.submitFailures--
		return "", fmt.Errorf("gateway unavailable")
	}
	id := fmt.Sprintf("batch-%d", len(g.batches)+1)
	g.batches[id] = &fakeBatch{requests: requests}
	g.inflight++
	if g.inflight > g.maxInflight {
		g.maxInflight = g.inflight
	}
	return id, nil
}

func (g *fakeGateway) PollBatchStatus(ctx context.Context, batchID string) (gateway.BatchState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.batches[batchID]
	if !ok {
		return "", fmt.Errorf("unknown batch %s", batchID)
	}
	b.polls++
	if g.pollsUntilDone < 0 || b.polls < g.pollsUntilDone {
		return gateway.BatchInProgress, nil
	}
	if !b.done {
		b.done = true
		g.inflight--
	}
	return g.finalState, nil
}

func (g *fakeGateway) FetchBatchResults(ctx context.Context, batchID string) ([]gateway.BatchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("unknown batch %s", batchID)
	}
	var results []gateway.BatchResult
	for _, req := range b.requests {
		if g.dropCustomIDs[req.CustomID] {
			continue
		}
		content := synthesize(req.Prompt, len(strings.Split(req.CustomID, "|")))
		if g.badCustomIDs[req.CustomID] {
			content = "the model refused to answer"
		}
		results = append(results, gateway.BatchResult{CustomID: req.CustomID, Content: content})
	}
	return results, nil
}

func (g *fakeGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.embedCalls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, g.embedDim)
		v[i%g.embedDim] = 1
		vectors[i] = v
	}
	return vectors, nil
}

// newTestAnalyzer wires an analyzer over the fakes with fast settings.
func newTestAnalyzer(photos *fakePhotoStore, procs *fakeProcessStore, vectors *fakeVectorStore, gw *fakeGateway) *AnalyzerService {
	return NewAnalyzerService(photos, procs, vectors, gw, newFakeLoader(), newFakeClock(), Config{
		VisionModel:    "vision-model",
		TopologyModel:  "topology-model",
		LLMModel:       "llm-model",
		EmbeddingModel: "embed-model",
		Dimensions:     9,
		Workers:        2,
		BatchAttempts:  2,
		MaxPolls:       10,
		PollInterval:   time.Millisecond,
	})
}
