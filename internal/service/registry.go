package service

import (
	"fmt"
	"sort"

	"github.com/ravel/photoflow/internal/domain"
)

// TaskKind selects the concrete task implementation for a spec.
type TaskKind string

const (
	KindVisionContext   TaskKind = "vision_context"
	KindVisionTopology  TaskKind = "vision_topology"
	KindDetections      TaskKind = "detections"
	KindMetadata        TaskKind = "metadata"
	KindTags            TaskKind = "tags"
	KindTagEmbeddings   TaskKind = "tag_embeddings"
	KindChunks          TaskKind = "chunks"
	KindChunkEmbeddings TaskKind = "chunk_embeddings"
	KindVisualEmbedding TaskKind = "visual_embedding"
	KindColorEmbedding  TaskKind = "color_embedding"
)

// ModelFamily names which configured model a task talks to. ModelNone marks
// tasks computed locally without any gateway call.
type ModelFamily string

const (
	ModelVision    ModelFamily = "vision"
	ModelTopology  ModelFamily = "topology"
	ModelLLM       ModelFamily = "llm"
	ModelEmbedding ModelFamily = "embedding"
	ModelNone      ModelFamily = "none"
)

// TaskSpec is one task declaration inside a package: which implementation
// runs, against which model, in which execution shape, and which health
// checks define "done" for a photo.
type TaskSpec struct {
	Name  string
	Kind  TaskKind
	Model ModelFamily
	Stage domain.ProcessStage

	// Direct-API shape.
	SubBatchSize int
	Sequential   bool

	// Batch-API shape. When UseBatchAPI is set the task submits large
	// batches and falls back to the direct shape for failed requests.
	UseBatchAPI      bool
	BatchSize        int
	PhotosPerRequest int

	// Image materialization.
	NeedsImage bool
	Guidelines bool

	// Health check patterns that must all hold for a photo to count as
	// done for this task. Patterns may use # * wildcards over indices.
	Checks []string
}

// PackageRegistry holds the named packages of tasks a process can run.
type PackageRegistry struct {
	packages map[string][]TaskSpec
}

// NewPackageRegistry builds the registry with the built-in packages.
func NewPackageRegistry() *PackageRegistry {
	return &PackageRegistry{packages: map[string][]TaskSpec{
		"basic":    basicPackage(),
		"advanced": advancedPackage(),
	}}
}

// Packages lists the registered package ids, sorted.
func (r *PackageRegistry) Packages() []string {
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the validated task list for a package id. Unknown ids and
// malformed declarations surface as *ConfigurationError before any state is
// touched.
func (r *PackageRegistry) Resolve(packageID string) ([]TaskSpec, error) {
	specs, ok := r.packages[packageID]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown package %q", packageID)}
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := validateSpec(s); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("package %q declares task %q twice", packageID, s.Name)}
		}
		seen[s.Name] = true
	}
	return specs, nil
}

// Register adds or replaces a package. Used by tests and custom deployments.
func (r *PackageRegistry) Register(id string, specs []TaskSpec) {
	r.packages[id] = specs
}

func validateSpec(s TaskSpec) error {
	switch {
	case s.Name == "":
		return &ConfigurationError{Reason: "task with empty name"}
	case s.Kind == "":
		return &ConfigurationError{Reason: fmt.Sprintf("task %q has no kind", s.Name)}
	case s.Stage == "":
		return &ConfigurationError{Reason: fmt.Sprintf("task %q has no stage", s.Name)}
	case len(s.Checks) == 0:
		return &ConfigurationError{Reason: fmt.Sprintf("task %q declares no health checks", s.Name)}
	case s.UseBatchAPI && (s.BatchSize <= 0 || s.PhotosPerRequest <= 0):
		return &ConfigurationError{Reason: fmt.Sprintf("batch task %q needs positive batch size and photos per request", s.Name)}
	case !s.UseBatchAPI && s.SubBatchSize <= 0:
		return &ConfigurationError{Reason: fmt.Sprintf("direct task %q needs a positive sub-batch size", s.Name)}
	}
	return nil
}

func basicPackage() []TaskSpec {
	return []TaskSpec{
		{
			Name: "vision_context", Kind: KindVisionContext, Model: ModelVision,
			Stage:       domain.StageVisionTasks,
			UseBatchAPI: true, BatchSize: 200, PhotosPerRequest: 4, SubBatchSize: 4,
			NeedsImage: true,
			Checks:     []string{"descriptions.context", "descriptions.caption"},
		},
		{
			Name: "tags", Kind: KindTags, Model: ModelLLM,
			Stage:       domain.StageTagsTasks,
			UseBatchAPI: true, BatchSize: 200, PhotosPerRequest: 4, SubBatchSize: 4,
			Checks: []string{"tags.any"},
		},
		{
			Name: "tag_embeddings", Kind: KindTagEmbeddings, Model: ModelEmbedding,
			Stage:        domain.StageEmbeddingsTags,
			SubBatchSize: 16,
			Checks:       []string{"tagPhoto#*.tag#*.embedding"},
		},
	}
}

func advancedPackage() []TaskSpec {
	return []TaskSpec{
		{
			Name: "vision_context", Kind: KindVisionContext, Model: ModelVision,
			Stage:       domain.StageVisionTasks,
			UseBatchAPI: true, BatchSize: 200, PhotosPerRequest: 4, SubBatchSize: 4,
			NeedsImage: true,
			Checks:     []string{"descriptions.context", "descriptions.caption", "descriptions.visual_aspects"},
		},
		{
			Name: "vision_topology", Kind: KindVisionTopology, Model: ModelTopology,
			Stage:        domain.StageVisionTasks,
			SubBatchSize: 2, Sequential: true,
			NeedsImage: true, Guidelines: true,
			Checks: []string{"descriptions.topology"},
		},
		{
			Name: "detections", Kind: KindDetections, Model: ModelTopology,
			Stage:        domain.StageVisionTasks,
			SubBatchSize: 4,
			NeedsImage:   true,
			Checks:       []string{"detections.any"},
		},
		{
			Name: "metadata", Kind: KindMetadata, Model: ModelLLM,
			Stage:        domain.StageVisionTasks,
			SubBatchSize: 8,
			Checks:       []string{"descriptions.metadata"},
		},
		{
			Name: "tags", Kind: KindTags, Model: ModelLLM,
			Stage:       domain.StageTagsTasks,
			UseBatchAPI: true, BatchSize: 200, PhotosPerRequest: 4, SubBatchSize: 4,
			Checks: []string{"tags.any"},
		},
		{
			Name: "tag_embeddings", Kind: KindTagEmbeddings, Model: ModelEmbedding,
			Stage:        domain.StageEmbeddingsTags,
			SubBatchSize: 16,
			Checks:       []string{"tagPhoto#*.tag#*.embedding"},
		},
		{
			Name: "chunks", Kind: KindChunks, Model: ModelLLM,
			Stage:        domain.StageChunksTasks,
			SubBatchSize: 8,
			Checks:       []string{"descriptionChunks.any"},
		},
		{
			Name: "chunk_embeddings", Kind: KindChunkEmbeddings, Model: ModelEmbedding,
			Stage:        domain.StageEmbeddingsChunk,
			SubBatchSize: 16,
			Checks:       []string{"descriptionChunk#*.embedding"},
		},
		{
			Name: "visual_embedding", Kind: KindVisualEmbedding, Model: ModelEmbedding,
			Stage:        domain.StageEmbeddingsChunk,
			SubBatchSize: 16,
			Checks:       []string{"embedding.visual"},
		},
		{
			Name: "color_embedding", Kind: KindColorEmbedding, Model: ModelNone,
			Stage:        domain.StageEmbeddingsChunk,
			SubBatchSize: 16,
			NeedsImage:   true,
			Checks:       []string{"embedding.color"},
		},
	}
}
