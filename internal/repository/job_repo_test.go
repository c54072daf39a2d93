package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

func setupJobTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.RenderJob{})
	require.NoError(t, err)

	return db
}

func makeJob(identity string, status models.JobStatus) *models.RenderJob {
	return &models.RenderJob{
		Identity:       identity,
		SourceFilename: "clip.mp4",
		Style:          models.StyleCrop,
		Status:         status,
	}
}

func TestRenderJobRepo_Create(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	job := makeJob("user-1", models.JobStatusPending)
	require.NoError(t, repo.Create(ctx, job))
	assert.False(t, job.ID.IsZero())
	assert.False(t, job.CreatedAt.IsZero())
}

func TestRenderJobRepo_GetByID(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	job := makeJob("user-1", models.JobStatusPending)
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRenderJobRepo_GetByIdentity(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeJob("user-1", models.JobStatusPending)))
	require.NoError(t, repo.Create(ctx, makeJob("user-1", models.JobStatusCompleted)))
	require.NoError(t, repo.Create(ctx, makeJob("user-2", models.JobStatusPending)))

	jobs, err := repo.GetByIdentity(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRenderJobRepo_GetActive(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeJob("a", models.JobStatusPending)))
	require.NoError(t, repo.Create(ctx, makeJob("b", models.JobStatusProcessing)))
	require.NoError(t, repo.Create(ctx, makeJob("c", models.JobStatusCompleted)))
	require.NoError(t, repo.Create(ctx, makeJob("d", models.JobStatusFailed)))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRenderJobRepo_Update(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	job := makeJob("user-1", models.JobStatusPending)
	require.NoError(t, repo.Create(ctx, job))

	job.MarkProcessing()
	job.ApplyProgress(40)
	require.NoError(t, repo.Update(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Equal(t, float64(40), got.Progress)
}

func TestRenderJobRepo_CountActiveByIdentity(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeJob("user-1", models.JobStatusPending)))
	require.NoError(t, repo.Create(ctx, makeJob("user-1", models.JobStatusProcessing)))
	require.NoError(t, repo.Create(ctx, makeJob("user-1", models.JobStatusCompleted)))
	require.NoError(t, repo.Create(ctx, makeJob("user-2", models.JobStatusPending)))

	count, err := repo.CountActiveByIdentity(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRenderJobRepo_CountByStatus(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeJob("a", models.JobStatusPending)))
	require.NoError(t, repo.Create(ctx, makeJob("b", models.JobStatusPending)))
	require.NoError(t, repo.Create(ctx, makeJob("c", models.JobStatusFailed)))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)

	byStatus := make(map[models.JobStatus]int64)
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	assert.Equal(t, int64(2), byStatus[models.JobStatusPending])
	assert.Equal(t, int64(1), byStatus[models.JobStatusFailed])
}

func TestRenderJobRepo_DeleteTerminalOlderThan(t *testing.T) {
	repo := NewRenderJobRepository(setupJobTestDB(t))
	ctx := context.Background()

	old := makeJob("a", models.JobStatusCompleted)
	require.NoError(t, repo.Create(ctx, old))
	stale := models.Now().Add(-48 * time.Hour)
	old.CompletedAt = &stale
	require.NoError(t, repo.Update(ctx, old))

	fresh := makeJob("b", models.JobStatusCompleted)
	require.NoError(t, repo.Create(ctx, fresh))
	now := models.Now()
	fresh.CompletedAt = &now
	require.NoError(t, repo.Update(ctx, fresh))

	running := makeJob("c", models.JobStatusProcessing)
	require.NoError(t, repo.Create(ctx, running))

	removed, err := repo.DeleteTerminalOlderThan(ctx, models.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := repo.GetRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
