package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ravel/photoflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PhotoRepository handles photo data operations, including tag links,
// detections and description chunks. It is the durable photo store consumed
// by the analyzer.
type PhotoRepository struct {
	db *gorm.DB
}

// NewPhotoRepository creates a new PhotoRepository.
func NewPhotoRepository(db *gorm.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// Create inserts a new photo record.
func (r *PhotoRepository) Create(ctx context.Context, photo *domain.Photo) error {
	return r.db.WithContext(ctx).Create(photo).Error
}

// GetByID retrieves a photo by its ID.
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	var photo domain.Photo
	if err := r.db.WithContext(ctx).First(&photo, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &photo, nil
}

// GetOwnedPhotos retrieves all photos owned by a process.
func (r *PhotoRepository) GetOwnedPhotos(ctx context.Context, processID string) ([]domain.Photo, error) {
	var photos []domain.Photo
	if err := r.db.WithContext(ctx).
		Where("process_id = ?", processID).
		Order("id").
		Find(&photos).Error; err != nil {
		return nil, err
	}
	return photos, nil
}

// GetUnownedPhotos retrieves the user's photos not owned by any process.
func (r *PhotoRepository) GetUnownedPhotos(ctx context.Context, userID string) ([]domain.Photo, error) {
	var photos []domain.Photo
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND process_id IS NULL", userID).
		Order("id").
		Find(&photos).Error; err != nil {
		return nil, err
	}
	return photos, nil
}

// GetUserPhotos retrieves all photos belonging to a user regardless of
// ownership.
func (r *PhotoRepository) GetUserPhotos(ctx context.Context, userID string) ([]domain.Photo, error) {
	var photos []domain.Photo
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&photos).Error; err != nil {
		return nil, err
	}
	return photos, nil
}

// SyncOwnership atomically reassigns process ownership: photos owned by the
// process but absent from photoIDs are detached, and every photo in photoIDs
// is attached to the process, detaching it from any prior owner.
func (r *PhotoRepository) SyncOwnership(ctx context.Context, processID string, photoIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		release := tx.Model(&domain.Photo{}).Where("process_id = ?", processID)
		if len(photoIDs) > 0 {
			release = release.Where("id NOT IN ?", photoIDs)
		}
		if err := release.Update("process_id", nil).Error; err != nil {
			return fmt.Errorf("failed to release ownership: %w", err)
		}
		if len(photoIDs) == 0 {
			return nil
		}
		if err := tx.Model(&domain.Photo{}).Where("id IN ?", photoIDs).
			Update("process_id", processID).Error; err != nil {
			return fmt.Errorf("failed to assign ownership: %w", err)
		}
		return nil
	})
}

// UpdateDescriptions deep-merges partial into the photo's description
// document. Nested objects merge, scalar fields are replaced.
func (r *PhotoRepository) UpdateDescriptions(ctx context.Context, photoID string, partial map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var photo domain.Photo
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&photo, "id = ?", photoID).Error; err != nil {
			return err
		}
		if photo.Descriptions == nil {
			photo.Descriptions = domain.JSONMap{}
		}
		photo.Descriptions.DeepMerge(partial)
		return tx.Model(&photo).Updates(map[string]interface{}{
			"descriptions": photo.Descriptions,
			"updated_at":   time.Now(),
		}).Error
	})
}

// SetVisualPoint records the qdrant point id of the photo's visual embedding.
func (r *PhotoRepository) SetVisualPoint(ctx context.Context, photoID, pointID string) error {
	return r.db.WithContext(ctx).Model(&domain.Photo{}).
		Where("id = ?", photoID).
		Update("visual_point_id", pointID).Error
}

// SetColorPoint records the qdrant point id of the photo's color embedding.
func (r *PhotoRepository) SetColorPoint(ctx context.Context, photoID, pointID string) error {
	return r.db.WithContext(ctx).Model(&domain.Photo{}).
		Where("id = ?", photoID).
		Update("color_point_id", pointID).Error
}

// UpdateDetections persists detections for a photo. With replaceAll, any
// existing detections are removed first.
func (r *PhotoRepository) UpdateDetections(ctx context.Context, photoID string, detections []domain.Detection, replaceAll bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replaceAll {
			if err := tx.Delete(&domain.Detection{}, "photo_id = ?", photoID).Error; err != nil {
				return err
			}
		}
		for i := range detections {
			detections[i].PhotoID = photoID
			if detections[i].ID == "" {
				detections[i].ID = uuid.New().String()
			}
		}
		if len(detections) == 0 {
			return nil
		}
		return tx.Create(&detections).Error
	})
}

// ReplaceTagsForCategory replaces the photo's tag links in one category with
// the given tag names, creating missing tags on the fly.
func (r *PhotoRepository) ReplaceTagsForCategory(ctx context.Context, photoID, category string, tagNames []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.TagPhoto{}, "photo_id = ? AND category = ?", photoID, category).Error; err != nil {
			return err
		}
		for _, name := range tagNames {
			var tag domain.Tag
			err := tx.First(&tag, "name = ? AND category = ?", name, category).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				tag = domain.Tag{
					ID:       uuid.New().String(),
					Name:     name,
					Category: category,
				}
				if err := tx.Create(&tag).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			link := domain.TagPhoto{
				ID:       uuid.New().String(),
				PhotoID:  photoID,
				TagID:    tag.ID,
				Category: category,
			}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SetTagEmbedding records the qdrant point id of a tag's name embedding.
func (r *PhotoRepository) SetTagEmbedding(ctx context.Context, tagID, pointID string) error {
	return r.db.WithContext(ctx).Model(&domain.Tag{}).
		Where("id = ?", tagID).
		Update("embed_point_id", pointID).Error
}

// ReplaceChunks replaces the photo's description chunks with the given texts.
func (r *PhotoRepository) ReplaceChunks(ctx context.Context, photoID string, texts []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.DescriptionChunk{}, "photo_id = ?", photoID).Error; err != nil {
			return err
		}
		for i, text := range texts {
			chunk := domain.DescriptionChunk{
				ID:       uuid.New().String(),
				PhotoID:  photoID,
				Position: i,
				Text:     text,
			}
			if err := tx.Create(&chunk).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SetChunkEmbedding records the qdrant point id of a chunk embedding.
func (r *PhotoRepository) SetChunkEmbedding(ctx context.Context, chunkID, pointID string) error {
	return r.db.WithContext(ctx).Model(&domain.DescriptionChunk{}).
		Where("id = ?", chunkID).
		Update("embed_point_id", pointID).Error
}

// GetDetail loads a photo with its tag links, tags, chunks and detections
// for health evaluation. A missing photo returns gorm.ErrRecordNotFound.
func (r *PhotoRepository) GetDetail(ctx context.Context, photoID string) (*domain.PhotoDetail, error) {
	var photo domain.Photo
	if err := r.db.WithContext(ctx).First(&photo, "id = ?", photoID).Error; err != nil {
		return nil, err
	}

	detail := &domain.PhotoDetail{
		Photo: photo,
		Tags:  map[string]domain.Tag{},
	}

	if err := r.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Order("created_at").
		Find(&detail.TagPhotos).Error; err != nil {
		return nil, err
	}
	if len(detail.TagPhotos) > 0 {
		tagIDs := make([]string, 0, len(detail.TagPhotos))
		for _, tp := range detail.TagPhotos {
			tagIDs = append(tagIDs, tp.TagID)
		}
		var tags []domain.Tag
		if err := r.db.WithContext(ctx).Where("id IN ?", tagIDs).Find(&tags).Error; err != nil {
			return nil, err
		}
		for _, tag := range tags {
			detail.Tags[tag.ID] = tag
		}
	}

	if err := r.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Order("position").
		Find(&detail.Chunks).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Find(&detail.Detections).Error; err != nil {
		return nil, err
	}

	return detail, nil
}
