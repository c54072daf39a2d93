package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// renderJobRepo implements RenderJobRepository using GORM.
type renderJobRepo struct {
	db *gorm.DB
}

// NewRenderJobRepository creates a new RenderJobRepository.
func NewRenderJobRepository(db *gorm.DB) RenderJobRepository {
	return &renderJobRepo{db: db}
}

func (r *renderJobRepo) Create(ctx context.Context, job *models.RenderJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating render job: %w", err)
	}
	return nil
}

func (r *renderJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.RenderJob, error) {
	var job models.RenderJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting render job by ID: %w", err)
	}
	return &job, nil
}

func (r *renderJobRepo) GetByIdentity(ctx context.Context, identity string) ([]*models.RenderJob, error) {
	var jobs []*models.RenderJob
	if err := r.db.WithContext(ctx).
		Where("identity = ?", identity).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting render jobs by identity: %w", err)
	}
	return jobs, nil
}

func (r *renderJobRepo) GetActive(ctx context.Context) ([]*models.RenderJob, error) {
	var jobs []*models.RenderJob
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting active render jobs: %w", err)
	}
	return jobs, nil
}

func (r *renderJobRepo) GetRecent(ctx context.Context, limit int) ([]*models.RenderJob, error) {
	var jobs []*models.RenderJob
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting recent render jobs: %w", err)
	}
	return jobs, nil
}

func (r *renderJobRepo) Update(ctx context.Context, job *models.RenderJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating render job: %w", err)
	}
	return nil
}

func (r *renderJobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.RenderJob{}).Error; err != nil {
		return fmt.Errorf("deleting render job: %w", err)
	}
	return nil
}

func (r *renderJobRepo) CountActiveByIdentity(ctx context.Context, identity string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.RenderJob{}).
		Where("identity = ?", identity).
		Where("status IN ?", []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting active render jobs: %w", err)
	}
	return count, nil
}

func (r *renderJobRepo) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	if err := r.db.WithContext(ctx).
		Model(&models.RenderJob{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting render jobs by status: %w", err)
	}
	return counts, nil
}

func (r *renderJobRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}).
		Where("completed_at < ?", cutoff).
		Delete(&models.RenderJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired render jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
