// Package repository defines data access interfaces for StoryLift entities.
// All database access goes through these interfaces, enabling easy testing.
package repository

import (
	"context"
	"time"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// StatusCount holds a job status with its occurrence count.
type StatusCount struct {
	Status models.JobStatus `json:"status"`
	Count  int64            `json:"count"`
}

// RenderJobRepository defines operations for render job persistence.
type RenderJobRepository interface {
	// Create creates a new render job.
	Create(ctx context.Context, job *models.RenderJob) error
	// GetByID retrieves a render job by ID. Returns nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.RenderJob, error)
	// GetByIdentity retrieves jobs submitted by an identity, newest first.
	GetByIdentity(ctx context.Context, identity string) ([]*models.RenderJob, error)
	// GetActive retrieves jobs that are pending or processing.
	GetActive(ctx context.Context) ([]*models.RenderJob, error)
	// GetRecent retrieves the most recently created jobs up to limit.
	GetRecent(ctx context.Context, limit int) ([]*models.RenderJob, error)
	// Update persists changes to an existing render job.
	Update(ctx context.Context, job *models.RenderJob) error
	// Delete deletes a render job by ID.
	Delete(ctx context.Context, id models.ULID) error
	// CountActiveByIdentity counts pending/processing jobs for an identity.
	CountActiveByIdentity(ctx context.Context, identity string) (int64, error)
	// CountByStatus returns per-status job counts.
	CountByStatus(ctx context.Context) ([]StatusCount, error)
	// DeleteTerminalOlderThan removes completed/failed jobs whose completion
	// is older than the cutoff. Returns the number of rows removed.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
