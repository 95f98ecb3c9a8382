package repository

import (
	"context"

	"github.com/ravel/photoflow/internal/domain"
	"gorm.io/gorm"
)

// ProcessRepository handles analyzer process persistence.
type ProcessRepository struct {
	db *gorm.DB
}

// NewProcessRepository creates a new ProcessRepository.
func NewProcessRepository(db *gorm.DB) *ProcessRepository {
	return &ProcessRepository{db: db}
}

// Create inserts a new process record.
func (r *ProcessRepository) Create(ctx context.Context, proc *domain.Process) error {
	return r.db.WithContext(ctx).Create(proc).Error
}

// Save persists the process including its sheet.
func (r *ProcessRepository) Save(ctx context.Context, proc *domain.Process) error {
	return r.db.WithContext(ctx).Save(proc).Error
}

// GetByID retrieves a process by its ID.
func (r *ProcessRepository) GetByID(ctx context.Context, id string) (*domain.Process, error) {
	var proc domain.Process
	if err := r.db.WithContext(ctx).First(&proc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &proc, nil
}

// ListByUser retrieves the user's processes, newest first.
func (r *ProcessRepository) ListByUser(ctx context.Context, userID string) ([]domain.Process, error) {
	var procs []domain.Process
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&procs).Error; err != nil {
		return nil, err
	}
	return procs, nil
}
