// Package service provides the high-level operations behind the API: job
// lifecycle, admission control, service metrics, and failure recovery.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MarcusHSmith/StoryLift/internal/config"
	"github.com/MarcusHSmith/StoryLift/internal/models"
	"github.com/MarcusHSmith/StoryLift/internal/repository"
)

// ErrJobNotFound is returned when a job ID resolves to nothing.
var ErrJobNotFound = fmt.Errorf("job not found")

// ErrJobTerminal is returned for mutations against completed or failed jobs.
var ErrJobTerminal = fmt.Errorf("job already in a terminal state")

// ErrJobActive is returned when deleting a job that has not finished.
var ErrJobActive = fmt.Errorf("job still active")

// JobService provides render job lifecycle operations.
type JobService struct {
	repo      repository.RenderJobRepository
	retention time.Duration
	logger    *slog.Logger

	cron    *cron.Cron
	sweepID cron.EntryID
}

// NewJobService creates a new JobService.
func NewJobService(repo repository.RenderJobRepository, jobsCfg config.JobsConfig) *JobService {
	retention := jobsCfg.Retention.Duration()
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &JobService{
		repo:      repo,
		retention: retention,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *JobService) WithLogger(logger *slog.Logger) *JobService {
	s.logger = logger
	return s
}

// CreateRequest carries the validated admission parameters for a new job.
type CreateRequest struct {
	Identity string
	Source   models.VideoInfo
	Style    models.StyleConfig
}

// Create persists a new pending job for an admitted request.
func (s *JobService) Create(ctx context.Context, req CreateRequest) (*models.RenderJob, error) {
	job := &models.RenderJob{
		Identity:        req.Identity,
		Status:          models.JobStatusPending,
		SourceFilename:  req.Source.Filename,
		SourceFormat:    req.Source.Format,
		SourceSizeBytes: req.Source.SizeBytes,
		SourceDuration:  req.Source.DurationSeconds,
		Style:           req.Style.Style,
		ShowSafeZones:   req.Style.ShowSafeZones,
		Title:           req.Style.Metadata.Title,
		ChannelName:     req.Style.Metadata.ChannelName,
		SubscriberLbl:   req.Style.Metadata.SubscriberLabel,
	}
	if job.Style == "" {
		job.Style = models.StyleBlur
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.logger.Info("created render job",
		slog.String("job_id", job.ID.String()),
		slog.String("identity", job.Identity),
		slog.String("filename", job.SourceFilename),
		slog.String("style", string(job.Style)))
	return job, nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id models.ULID) (*models.RenderJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// GetRecent retrieves the most recently created jobs.
func (s *JobService) GetRecent(ctx context.Context, limit int) ([]*models.RenderJob, error) {
	return s.repo.GetRecent(ctx, limit)
}

// GetByIdentity retrieves an identity's jobs, newest first.
func (s *JobService) GetByIdentity(ctx context.Context, identity string) ([]*models.RenderJob, error) {
	return s.repo.GetByIdentity(ctx, identity)
}

// MarkProcessing transitions a pending job to processing.
func (s *JobService) MarkProcessing(ctx context.Context, id models.ULID) (*models.RenderJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobTerminal
	}
	job.MarkProcessing()
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}
	return job, nil
}

// UpdateProgress applies a progress update and recomputes the remaining-time
// estimate from elapsed wall time. Regressions while processing are ignored.
func (s *JobService) UpdateProgress(ctx context.Context, id models.ULID, progress float64, step string) (*models.RenderJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobTerminal
	}

	job.ApplyProgress(progress)
	if step != "" {
		job.CurrentStep = step
	}
	job.EstimatedRemainingMs = estimateRemaining(job)

	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}
	return job, nil
}

// Complete records a successful render result on the job.
func (s *JobService) Complete(ctx context.Context, id models.ULID, result models.RenderResult) (*models.RenderJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobTerminal
	}
	job.MarkCompleted(result)
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}

	s.logger.Info("completed render job",
		slog.String("job_id", job.ID.String()),
		slog.Int("frame_count", result.FrameCount),
		slog.Bool("audio_omitted", result.AudioOmitted))
	return job, nil
}

// Fail records a terminal failure on the job, including any recovery advice.
func (s *JobService) Fail(ctx context.Context, id models.ULID, cause error, suggestedActions []string) (*models.RenderJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobTerminal
	}
	job.MarkFailed(cause)
	job.SuggestedActions = joinActions(suggestedActions)
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}

	s.logger.Warn("render job failed",
		slog.String("job_id", job.ID.String()),
		slog.String("error", job.LastError))
	return job, nil
}

// Cancel marks a pending or processing job as failed with a cancellation
// reason. Terminal jobs cannot be cancelled.
func (s *JobService) Cancel(ctx context.Context, id models.ULID) (*models.RenderJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobTerminal
	}

	job.MarkFailed(fmt.Errorf("cancelled by user"))
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("updating job: %w", err)
	}

	s.logger.Info("cancelled render job", slog.String("job_id", job.ID.String()))
	return job, nil
}

// Delete removes a finished job. Active jobs must be cancelled first.
func (s *JobService) Delete(ctx context.Context, id models.ULID) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return ErrJobActive
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}

	s.logger.Info("deleted render job", slog.String("job_id", id.String()))
	return nil
}

// FailInterrupted marks jobs left pending or processing by a previous run as
// failed. Renders do not survive a restart, so leftover active jobs would
// otherwise hold their identity's concurrency slots forever.
func (s *JobService) FailInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.repo.GetActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active jobs: %w", err)
	}

	failed := 0
	for _, job := range jobs {
		job.MarkFailed(fmt.Errorf("interrupted by service restart"))
		if err := s.repo.Update(ctx, job); err != nil {
			return failed, fmt.Errorf("failing interrupted job %s: %w", job.ID, err)
		}
		failed++
	}
	if failed > 0 {
		s.logger.Warn("failed interrupted jobs from previous run", slog.Int("count", failed))
	}
	return failed, nil
}

// Sweep deletes terminal jobs older than the retention period.
func (s *JobService) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.repo.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping terminal jobs: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("swept expired jobs",
			slog.Int64("deleted", deleted),
			slog.Duration("retention", s.retention))
	}
	return deleted, nil
}

// StartSweeper schedules the retention sweep on the given cron spec.
func (s *JobService) StartSweeper(spec string) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already running")
	}
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("job sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	s.cron = c
	s.sweepID = id
	c.Start()

	s.logger.Info("job sweeper started", slog.String("schedule", spec))
	return nil
}

// StopSweeper stops the retention sweep loop.
func (s *JobService) StopSweeper() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// estimateRemaining projects remaining wall time from progress so far.
// Returns nil until progress advances past zero.
func estimateRemaining(job *models.RenderJob) *int64 {
	if job.Progress <= 0 || job.StartedAt == nil {
		return nil
	}
	elapsed := job.ElapsedMillis()
	total := float64(elapsed) / job.Progress * 100
	remaining := int64(total) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func joinActions(actions []string) string {
	return strings.Join(actions, "; ")
}
