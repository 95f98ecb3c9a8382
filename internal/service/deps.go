package service

import (
	"context"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/gateway"
)

// PhotoStore is the photo persistence surface the analyzer depends on.
// Implemented by repository.PhotoRepository.
type PhotoStore interface {
	GetByID(ctx context.Context, id string) (*domain.Photo, error)
	GetOwnedPhotos(ctx context.Context, processID string) ([]domain.Photo, error)
	GetUnownedPhotos(ctx context.Context, userID string) ([]domain.Photo, error)
	GetUserPhotos(ctx context.Context, userID string) ([]domain.Photo, error)
	SyncOwnership(ctx context.Context, processID string, photoIDs []string) error

	UpdateDescriptions(ctx context.Context, photoID string, partial map[string]interface{}) error
	UpdateDetections(ctx context.Context, photoID string, detections []domain.Detection, replaceAll bool) error
	ReplaceTagsForCategory(ctx context.Context, photoID, category string, tagNames []string) error
	ReplaceChunks(ctx context.Context, photoID string, texts []string) error
	SetTagEmbedding(ctx context.Context, tagID, pointID string) error
	SetChunkEmbedding(ctx context.Context, chunkID, pointID string) error
	SetVisualPoint(ctx context.Context, photoID, pointID string) error
	SetColorPoint(ctx context.Context, photoID, pointID string) error

	GetDetail(ctx context.Context, photoID string) (*domain.PhotoDetail, error)
}

// ProcessStore persists analyzer processes together with their sheets.
type ProcessStore interface {
	Create(ctx context.Context, proc *domain.Process) error
	Save(ctx context.Context, proc *domain.Process) error
	GetByID(ctx context.Context, id string) (*domain.Process, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Process, error)
}

// VectorStore stores embedding points. Implemented by repository.VectorRepository.
type VectorStore interface {
	UpsertPoint(ctx context.Context, pointID string, vector []float32, payload map[string]string) error
	DeletePoint(ctx context.Context, pointID string) error
}

// ModelGateway is the AI provider surface: direct chat calls, the async
// Batch API, and text embeddings.
type ModelGateway interface {
	InferDirect(ctx context.Context, model, prompt string, images []string) (string, error)
	SubmitBatch(ctx context.Context, requests []gateway.BatchRequest) (string, error)
	PollBatchStatus(ctx context.Context, batchID string) (gateway.BatchState, error)
	FetchBatchResults(ctx context.Context, batchID string) ([]gateway.BatchResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageLoader materializes photo bytes plus a base64 data URL, optionally
// with composition guidelines drawn over the image.
type ImageLoader interface {
	Load(ctx context.Context, photo domain.Photo, withGuidelines bool) ([]byte, string, error)
}
