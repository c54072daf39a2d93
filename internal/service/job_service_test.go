package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcusHSmith/StoryLift/internal/config"
	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/repository"
)

// memRepo is an in-memory RenderJobRepository for service tests.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.RenderJob
	err  error
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]*models.RenderJob)}
}

func (r *memRepo) Create(_ context.Context, job *models.RenderJob) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID.IsZero() {
		job.ID = models.NewULID()
	}
	cp := *job
	r.jobs[job.ID.String()] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id models.ULID) (*models.RenderJob, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id.String()]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *memRepo) GetByIdentity(_ context.Context, identity string) ([]*models.RenderJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RenderJob
	for _, job := range r.jobs {
		if job.Identity == identity {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) GetActive(_ context.Context) ([]*models.RenderJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RenderJob
	for _, job := range r.jobs {
		if !job.Status.IsTerminal() {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) GetRecent(_ context.Context, limit int) ([]*models.RenderJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RenderJob
	for _, job := range r.jobs {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() > out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, job *models.RenderJob) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID.String()] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id models.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id.String())
	return nil
}

func (r *memRepo) CountActiveByIdentity(_ context.Context, identity string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Identity == identity && !job.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CountByStatus(_ context.Context) ([]repository.StatusCount, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.JobStatus]int64)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	var out []repository.StatusCount
	for status, count := range counts {
		out = append(out, repository.StatusCount{Status: status, Count: count})
	}
	return out, nil
}

func (r *memRepo) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, job := range r.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Retention:       config.Duration(24 * time.Hour),
		SweepInterval:   5 * time.Minute,
		MetricsInterval: time.Second,
		MetricsHistory:  100,
	}
}

func testCreateRequest() CreateRequest {
	return CreateRequest{
		Identity: "user-1",
		Source: models.VideoInfo{
			Filename:        "clip.mp4",
			Format:          "mp4",
			SizeBytes:       1024,
			DurationSeconds: 12.5,
		},
		Style: models.StyleConfig{
			Style: models.StyleCrop,
			Metadata: models.StoryMetadata{
				Title:       "My Story",
				ChannelName: "My Channel",
			},
		},
	}
}

func TestJobService_Create(t *testing.T) {
	repo := newMemRepo()
	svc := NewJobService(repo, testJobsConfig())

	job, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)

	assert.False(t, job.ID.IsZero())
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "user-1", job.Identity)
	assert.Equal(t, "clip.mp4", job.SourceFilename)
	assert.Equal(t, models.StyleCrop, job.Style)
	assert.Equal(t, "My Story", job.Title)
}

func TestJobService_CreateDefaultsStyle(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	req := testCreateRequest()
	req.Style.Style = ""
	job, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StyleBlur, job.Style)
}

func TestJobService_CreateValidation(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	req := testCreateRequest()
	req.Identity = ""
	_, err := svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrIdentityRequired)

	req = testCreateRequest()
	req.Source.Filename = ""
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrFilenameRequired)
}

func TestJobService_GetNotFound(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	_, err := svc.Get(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobService_ProgressUpdateAndETA(t *testing.T) {
	repo := newMemRepo()
	svc := NewJobService(repo, testJobsConfig())

	job, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)

	job, err = svc.MarkProcessing(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)

	job, err = svc.UpdateProgress(context.Background(), job.ID, 50, "encoding frames")
	require.NoError(t, err)
	assert.Equal(t, 50.0, job.Progress)
	assert.Equal(t, "encoding frames", job.CurrentStep)
	require.NotNil(t, job.EstimatedRemainingMs)
	assert.GreaterOrEqual(t, *job.EstimatedRemainingMs, int64(0))

	// Regressions while processing are ignored.
	job, err = svc.UpdateProgress(context.Background(), job.ID, 30, "")
	require.NoError(t, err)
	assert.Equal(t, 50.0, job.Progress)

	// Values are clamped into [0,100].
	job, err = svc.UpdateProgress(context.Background(), job.ID, 250, "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, job.Progress)
}

func TestJobService_Complete(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	job, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)
	_, err = svc.MarkProcessing(context.Background(), job.ID)
	require.NoError(t, err)

	job, err = svc.Complete(context.Background(), job.ID, models.RenderResult{
		OutputPath:      "/data/output/story.mp4",
		SizeBytes:       2048,
		DurationSeconds: 12.5,
		FrameCount:      375,
		AudioOmitted:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 375, job.FrameCount)
	assert.True(t, job.AudioOmitted)
	assert.NotNil(t, job.CompletedAt)
}

func TestJobService_FailRecordsSuggestedActions(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	job, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)

	job, err = svc.Fail(context.Background(), job.ID, errors.New("encode blew up"),
		[]string{"Retry the render", "Try a shorter clip"})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "encode blew up", job.LastError)
	assert.Equal(t, "Retry the render; Try a shorter clip", job.SuggestedActions)
}

func TestJobService_CancelTerminalFails(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	job, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, cancelled.Status)
	assert.Contains(t, cancelled.LastError, "cancelled")

	_, err = svc.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)

	_, err = svc.UpdateProgress(context.Background(), job.ID, 10, "")
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestJobService_DeleteOnlyTerminal(t *testing.T) {
	svc := NewJobService(newMemRepo(), testJobsConfig())

	job, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)

	err = svc.Delete(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobActive)

	_, err = svc.Complete(context.Background(), job.ID, models.RenderResult{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), job.ID))
	_, err = svc.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = svc.Delete(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobService_FailInterrupted(t *testing.T) {
	repo := newMemRepo()
	svc := NewJobService(repo, testJobsConfig())

	pending, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)
	processing, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)
	_, err = svc.MarkProcessing(context.Background(), processing.ID)
	require.NoError(t, err)
	done, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), done.ID, models.RenderResult{})
	require.NoError(t, err)

	failed, err := svc.FailInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, failed)

	for _, id := range []models.ULID{pending.ID, processing.ID} {
		job, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.Contains(t, job.LastError, "interrupted")
	}
	job, err := svc.Get(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestJobService_Sweep(t *testing.T) {
	repo := newMemRepo()
	svc := NewJobService(repo, testJobsConfig())

	fresh, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), fresh.ID, models.RenderResult{})
	require.NoError(t, err)

	stale, err := svc.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), stale.ID, models.RenderResult{})
	require.NoError(t, err)

	// Age the second job past retention.
	repo.mu.Lock()
	old := models.Time(time.Now().Add(-48 * time.Hour))
	repo.jobs[stale.ID.String()].CompletedAt = &old
	repo.mu.Unlock()

	deleted, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.Get(context.Background(), stale.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.Get(context.Background(), fresh.ID)
	assert.NoError(t, err)
}
